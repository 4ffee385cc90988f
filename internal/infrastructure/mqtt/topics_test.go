package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "home"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State sensor", topics.State(SensorAddress(1)), "home/state/allnet/sensor-1"},
		{"State actor", topics.State(ActorAddress(3)), "home/state/allnet/actor-3"},
		{"Command", topics.Command(ActorAddress(3)), "home/command/allnet/actor-3"},
		{"Ack", topics.Ack(ActorAddress(3)), "home/ack/allnet/actor-3"},
		{"Request", topics.Request("req-abc"), "home/request/allnet/req-abc"},
		{"Response", topics.Response("req-abc"), "home/response/allnet/req-abc"},
		{"Health", topics.Health(), "home/health/allnet"},
		{"Discovery", topics.Discovery(), "home/discovery/allnet"},
		{"SystemStatus", topics.SystemStatus(), "home/system/allnet/status"},
		{"AllCommands", topics.AllCommands(), "home/command/allnet/#"},
		{"AllRequests", topics.AllRequests(), "home/request/allnet/#"},
		{"AllStates", topics.AllStates(), "home/state/allnet/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_Prefix(t *testing.T) {
	if got := (Topics{}).Health(); got != "home/health/allnet" {
		t.Errorf("empty prefix Health() = %q, want default prefix", got)
	}
	if got := (Topics{Prefix: "site/b/"}).Health(); got != "site/b/health/allnet" {
		t.Errorf("trailing slash Health() = %q", got)
	}
}

func TestTopics_Split(t *testing.T) {
	topics := Topics{Prefix: "home"}

	tests := []struct {
		topic        string
		wantCategory string
		wantAddress  string
		wantOK       bool
	}{
		{"home/command/allnet/actor-3", "command", "actor-3", true},
		{"home/request/allnet/req-1", "request", "req-1", true},
		{"home/command/zigbee/1-2-3", "", "", false},
		{"office/command/allnet/actor-3", "", "", false},
		{"home/command/allnet/", "", "", false},
		{"home/command", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			category, address, ok := topics.Split(tt.topic)
			if ok != tt.wantOK || category != tt.wantCategory || address != tt.wantAddress {
				t.Errorf("Split() = (%q, %q, %v), want (%q, %q, %v)",
					category, address, ok, tt.wantCategory, tt.wantAddress, tt.wantOK)
			}
		})
	}
}

func TestParseAddresses(t *testing.T) {
	tests := []struct {
		address string
		parse   func(string) (int, bool)
		wantID  int
		wantOK  bool
	}{
		{"actor-3", ParseActorAddress, 3, true},
		{"actor-0", ParseActorAddress, 0, true},
		{"actor--1", ParseActorAddress, 0, false},
		{"actor-x", ParseActorAddress, 0, false},
		{"sensor-3", ParseActorAddress, 0, false},
		{"sensor-12", ParseSensorAddress, 12, true},
		{"sensor-", ParseSensorAddress, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			id, ok := tt.parse(tt.address)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("parse(%q) = (%d, %v), want (%d, %v)", tt.address, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
