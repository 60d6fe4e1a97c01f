package clientmqtt

import (
	"encoding/json"
	"errors"
	"testing"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/engine"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/mapping"
)

type fakeController struct {
	tested     map[string]color.RGB
	brightness float64
	mappings   []mapping.Mapping
	testErr    error
	mapErr     error
}

func (f *fakeController) TestSend(lightID string, rgb color.RGB, brightness float64) error {
	if f.testErr != nil {
		return f.testErr
	}
	if f.tested == nil {
		f.tested = map[string]color.RGB{}
	}
	f.tested[lightID] = rgb
	f.brightness = brightness
	return nil
}

func (f *fakeController) ReplaceMappings(ms []mapping.Mapping) error {
	if f.mapErr != nil {
		return f.mapErr
	}
	f.mappings = ms
	return nil
}

func (f *fakeController) Status() engine.Status {
	return engine.Status{Running: true, MappingVersion: 7, Mappings: len(f.mappings)}
}

type published struct {
	topic   string
	payload []byte
}

func newTestClient(ctl Controller) (*ClientMQTT, *[]published) {
	var out []published
	c := NewClient(logger.NewDiscard(), MQTTConf{TopicPrefix: "lab"}, ctl)
	c.publish = func(topic string, payload []byte) {
		out = append(out, published{topic, payload})
	}
	return c, &out
}

func TestParseTest(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		id      string
		wantErr bool
	}{
		{"ok", "lab/test/D073D5000001", `{"r":1,"g":2,"b":3,"brightness":0.5}`, "d073d5000001", false},
		{"no brightness", "lab/test/desk", `{"r":255}`, "desk", false},
		{"no id", "lab/test/", `{}`, "", true},
		{"wrong prefix", "other/test/desk", `{}`, "", true},
		{"bad json", "lab/test/desk", `{"r":`, "desk", true},
		{"out of range", "lab/test/desk", `{"r":256}`, "desk", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _, err := parseTest("lab/test/", tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.id {
				t.Fatalf("expected id %q, got %q", tt.id, id)
			}
		})
	}
}

func TestHandleTest(t *testing.T) {
	ctl := &fakeController{}
	c, _ := newTestClient(ctl)

	res := c.handleTest("lab/test/desk", []byte(`{"r":10,"g":20,"b":30}`))
	if !res.OK || res.LightID != "desk" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ctl.tested["desk"] != (color.RGB{R: 10, G: 20, B: 30}) || ctl.brightness != 1 {
		t.Fatalf("unexpected submission: %+v brightness=%v", ctl.tested, ctl.brightness)
	}

	ctl.testErr = engine.ErrUnknownLight
	res = c.handleTest("lab/test/ghost", []byte(`{"r":1}`))
	if res.OK || res.Error == "" {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestHandleMappings(t *testing.T) {
	ctl := &fakeController{}
	c, _ := newTestClient(ctl)

	payload := `[{"light_id":"Desk","universe":1,"start_channel":4},{"light_id":"wall","universe":2,"start_channel":1,"brightness":0.25,"mode":"rgb3"}]`
	res := c.handleMappings([]byte(payload))
	if !res.OK || res.Version != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(ctl.mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(ctl.mappings))
	}
	m := ctl.mappings[0]
	if m.LightID != "desk" || m.StartChannel != 4 || m.Brightness != 1 {
		t.Fatalf("unexpected mapping: %+v", m)
	}
	if ctl.mappings[1].Mode != mapping.ModeRGB3 || ctl.mappings[1].Brightness != 0.25 {
		t.Fatalf("unexpected mapping: %+v", ctl.mappings[1])
	}

	if res := c.handleMappings([]byte(`{"light_id":"x"}`)); res.OK {
		t.Fatal("object payload must be rejected")
	}

	ctl.mapErr = errors.New("invalid mapping")
	if res := c.handleMappings([]byte(`[]`)); res.OK || res.Error != "invalid mapping" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPublishStatus(t *testing.T) {
	c, out := newTestClient(&fakeController{})
	c.publishJSON(c.topic(topicStatus), c.ctl.Status())

	if len(*out) != 1 || (*out)[0].topic != "lab/status" {
		t.Fatalf("unexpected publish: %+v", *out)
	}
	var st engine.Status
	if err := json.Unmarshal((*out)[0].payload, &st); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if !st.Running || st.MappingVersion != 7 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestDefaultClientID(t *testing.T) {
	a := NewClient(logger.NewDiscard(), MQTTConf{}, &fakeController{})
	b := NewClient(logger.NewDiscard(), MQTTConf{}, &fakeController{})
	if a.cfgClient.ClientID == b.cfgClient.ClientID {
		t.Fatal("client ids must be unique")
	}
	if a.cfgClient.Schema != "tcp" || a.topic("status") != "sacn2lifx/status" {
		t.Fatalf("unexpected defaults: %+v", a.cfgClient)
	}
}
