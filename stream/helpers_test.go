package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

type recordingPurger struct {
	keys []string
	err  error
}

func (p *recordingPurger) Purge(_ context.Context, key string) error {
	p.keys = append(p.keys, key)
	return p.err
}

func hashImage(key string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"k":           events.NewStringAttribute(key),
		"kind":        events.NewStringAttribute("hash"),
		"h:_id":       events.NewStringAttribute("1"),
		"ttl":         events.NewNumberAttribute("1700000000"),
		"h:firstname": events.NewStringAttribute("arya"),
	}
}

func TestGetStringAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"name":    events.NewStringAttribute("persons:1"),
		"empty":   events.NewStringAttribute(""),
		"unicode": events.NewStringAttribute("日本語テスト"),
		"special": events.NewStringAttribute("value#with:special/chars"),
		"number":  events.NewNumberAttribute("42"),
	}

	tests := []struct {
		name  string
		image map[string]events.DynamoDBAttributeValue
		key   string
		want  string
	}{
		{"existing", image, "name", "persons:1"},
		{"empty value", image, "empty", ""},
		{"unicode", image, "unicode", "日本語テスト"},
		{"special characters", image, "special", "value#with:special/chars"},
		{"number attribute", image, "number", ""},
		{"missing key", image, "other", ""},
		{"empty image", map[string]events.DynamoDBAttributeValue{}, "name", ""},
		{"nil image", nil, "name", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getStringAttr(tt.image, tt.key); got != tt.want {
				t.Errorf("getStringAttr(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestGetNumberAttr(t *testing.T) {
	tests := []struct {
		name  string
		image map[string]events.DynamoDBAttributeValue
		want  int64
	}{
		{"valid", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("1234567890")}, 1234567890},
		{"zero", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("0")}, 0},
		{"negative", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("-100")}, -100},
		{"max int64", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("9223372036854775807")}, 9223372036854775807},
		{"string attribute", map[string]events.DynamoDBAttributeValue{"ttl": events.NewStringAttribute("soon")}, 0},
		{"missing key", map[string]events.DynamoDBAttributeValue{"other": events.NewNumberAttribute("42")}, 0},
		{"nil image", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getNumberAttr(tt.image, "ttl"); got != tt.want {
				t.Errorf("getNumberAttr() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProcessRecord_SkipsOtherEvents(t *testing.T) {
	tests := []struct {
		name   string
		record events.DynamoDBEventRecord
	}{
		{"insert", events.DynamoDBEventRecord{
			EventName: "INSERT",
			Change:    events.DynamoDBStreamRecord{NewImage: hashImage("persons:1")},
		}},
		{"modify", events.DynamoDBEventRecord{
			EventName: "MODIFY",
			Change:    events.DynamoDBStreamRecord{OldImage: hashImage("persons:1"), NewImage: hashImage("persons:1")},
		}},
		{"remove set item", events.DynamoDBEventRecord{
			EventName: "REMOVE",
			Change: events.DynamoDBStreamRecord{OldImage: map[string]events.DynamoDBAttributeValue{
				"k":    events.NewStringAttribute("persons"),
				"kind": events.NewStringAttribute("set"),
			}},
		}},
		{"remove without old image", events.DynamoDBEventRecord{EventName: "REMOVE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingPurger{}
			if err := NewHandler(p, nil).processRecord(context.Background(), &tt.record); err != nil {
				t.Fatalf("processRecord() error = %v", err)
			}
			if len(p.keys) != 0 {
				t.Errorf("purged %v, want nothing", p.keys)
			}
		})
	}
}

func TestProcessRecord_KeyFromKeysOrImage(t *testing.T) {
	withKeys := events.DynamoDBEventRecord{
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			Keys:     map[string]events.DynamoDBAttributeValue{"k": events.NewStringAttribute("persons:1")},
			OldImage: hashImage("ignored:9"),
		},
	}
	imageOnly := events.DynamoDBEventRecord{
		EventName: "REMOVE",
		Change:    events.DynamoDBStreamRecord{OldImage: hashImage("persons:2")},
	}

	p := &recordingPurger{}
	h := NewHandler(p, nil)
	for _, r := range []*events.DynamoDBEventRecord{&withKeys, &imageOnly} {
		if err := h.processRecord(context.Background(), r); err != nil {
			t.Fatalf("processRecord() error = %v", err)
		}
	}
	if len(p.keys) != 2 || p.keys[0] != "persons:1" || p.keys[1] != "persons:2" {
		t.Errorf("purged %v, want [persons:1 persons:2]", p.keys)
	}
}

func TestHandleExpirations_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	p := &recordingPurger{err: boom}
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		{EventID: "1", EventName: "REMOVE", Change: events.DynamoDBStreamRecord{OldImage: hashImage("persons:1")}},
		{EventID: "2", EventName: "REMOVE", Change: events.DynamoDBStreamRecord{OldImage: hashImage("persons:2")}},
	}}

	err := NewHandler(p, nil).HandleExpirations(context.Background(), event)
	if !errors.Is(err, boom) {
		t.Fatalf("HandleExpirations() error = %v, want %v", err, boom)
	}
	if len(p.keys) != 1 {
		t.Errorf("purged %v after failure, want only the first record", p.keys)
	}
}

func TestIsTTLRemoval(t *testing.T) {
	ttl := &events.DynamoDBEventRecord{UserIdentity: &events.DynamoDBUserIdentity{
		Type:        "Service",
		PrincipalID: "dynamodb.amazonaws.com",
	}}
	if !isTTLRemoval(ttl) {
		t.Error("expected TTL removal")
	}
	if isTTLRemoval(&events.DynamoDBEventRecord{}) {
		t.Error("user delete reported as TTL removal")
	}
}
