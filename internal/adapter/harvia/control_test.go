package harvia

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"sauna2hap/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMutationInputWireEncoding(t *testing.T) {
	cases := []struct {
		attr  domain.Attribute
		value float64
		key   string
		want  any
	}{
		{domain.AttrPower, 1, "active", 1},
		{domain.AttrPower, 0, "active", 0},
		{domain.AttrLight, 1, "light", 1},
		{domain.AttrSteamer, 1, "steamEn", 1},
		{domain.AttrTargetTemperature, 85, "targetTemp", 85},
		{domain.AttrTargetHumidity, 40, "targetRh", 40},
		{domain.AttrFanSpeed, 1, "fan", 1},
	}
	for _, tc := range cases {
		input, err := mutationInput(tc.attr, tc.value)
		assert.NoError(t, err, string(tc.attr))
		assert.Len(t, input, 1)
		assert.EqualValues(t, tc.want, input[tc.key], string(tc.attr))
	}

	_, err := mutationInput(domain.AttrTargetTemperature, 20)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
}

func TestControlSetAttributeDecodesEcho(t *testing.T) {
	fc := newFakeCloud(t)
	var gotVars map[string]any
	fc.graphql = func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotVars = req.Variables
		w.Write([]byte(`{"data":{"updateDevice":{"active":1,"targetTemp":85}}}`))
	}
	control := newTestControl(t, fc)

	delta, err := control.SetAttribute(context.Background(), "sauna-1", domain.AttrPower, 1)
	assert.NoError(t, err)
	assert.Equal(t, "sauna-1", gotVars["deviceId"])
	input := gotVars["input"].(map[string]any)
	assert.EqualValues(t, 1, input["active"])

	assert.NotNil(t, delta.Power)
	assert.True(t, *delta.Power)
	assert.Equal(t, 85.0, *delta.TargetTemperature)
}

func TestControlRetriesOnceAfterUnauthorized(t *testing.T) {
	fc := newFakeCloud(t)
	calls := 0
	fc.graphql = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":{"updateDevice":{"light":1}}}`))
	}
	client := NewClient(fc.server.URL, zap.NewNop())
	session := &staticSession{token: "tok"}
	control := NewControl(client, session, zap.NewNop())

	delta, err := control.SetAttribute(context.Background(), "sauna-1", domain.AttrLight, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, session.invalidated)
	assert.True(t, *delta.LightOn)
}

func TestControlLatestDataEmptyIsMalformed(t *testing.T) {
	fc := newFakeCloud(t)
	fc.graphql = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"getLatestDeviceData":null}}`))
	}
	control := newTestControl(t, fc)

	_, err := control.LatestData(context.Background(), "sauna-1")
	assert.ErrorIs(t, err, domain.ErrMalformed)
}
