package state_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/stride"
	"github.com/xraph/stride/state"
)

func TestLoad_WrapsRawInput(t *testing.T) {
	raw := []byte(`{"order_id":"ord_123"}`)

	js, err := state.Load(raw, state.JSON{}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !js.Prepared {
		t.Error("loaded state is not prepared")
	}
	if string(js.Source) != string(raw) {
		t.Errorf("source = %s, want %s", js.Source, raw)
	}
	if js.Steps == nil {
		t.Error("steps map not initialized")
	}
}

func TestLoad_RoundTripIsStable(t *testing.T) {
	codec := state.JSON{}
	raw := []byte(`{"order_id":"ord_123"}`)

	js, err := state.Load(raw, codec, nil)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}

	state.NewManager(js, "charge").Complete(json.RawMessage(`"ch_1"`))

	encoded, err := codec.Marshal(js)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	reloaded, err := state.Load(encoded, codec, nil)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if string(reloaded.Source) != string(raw) {
		t.Errorf("source after round trip = %s, want %s", reloaded.Source, raw)
	}

	st := reloaded.Step("charge")
	if st == nil {
		t.Fatal("step lost in round trip")
	}
	if st.Status != state.StatusCompleted {
		t.Errorf("step status = %s, want completed", st.Status)
	}
	if string(st.Result) != `"ch_1"` {
		t.Errorf("step result = %s, want \"ch_1\"", st.Result)
	}
}

func TestLoad_Validates(t *testing.T) {
	type input struct {
		OrderID string `json:"order_id"`
	}

	validate := state.Schema[input]("process_order")

	if _, err := state.Load([]byte(`{"order_id":"ord_1"}`), state.JSON{}, validate); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}

	_, err := state.Load([]byte(`{"order_id":42}`), state.JSON{}, validate)
	if err == nil {
		t.Fatal("invalid input accepted")
	}

	var verr *stride.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *stride.ValidationError", err)
	}
	if verr.Flow != "process_order" {
		t.Errorf("flow = %q, want process_order", verr.Flow)
	}
}

func TestManager_Transitions(t *testing.T) {
	js, _ := state.Load([]byte(`{}`), state.JSON{}, nil)

	mgr := state.NewManager(js, "reserve")
	if !mgr.Runnable() {
		t.Fatal("fresh step not runnable")
	}

	st := mgr.Begin()
	if st.Status != state.StatusActive || st.Attempts != 1 {
		t.Fatalf("after Begin: status=%s attempts=%d", st.Status, st.Attempts)
	}

	mgr.Fail(errors.New("inventory unavailable"))
	if st.Status != state.StatusFailed {
		t.Errorf("after Fail: status = %s", st.Status)
	}
	if st.Error == nil || st.Error.Message != "inventory unavailable" {
		t.Errorf("fault not recorded: %+v", st.Error)
	}

	// Failed steps re-run on the next delivery.
	retry := state.NewManager(js, "reserve")
	if !retry.Runnable() {
		t.Error("failed step not runnable")
	}

	retry.Begin()
	retry.Complete(json.RawMessage(`"rsv_9"`))
	if st.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", st.Attempts)
	}
	if st.Error != nil {
		t.Error("Complete did not clear the recorded fault")
	}

	// Completed steps are not runnable on a later delivery.
	replay := state.NewManager(js, "reserve")
	if replay.Runnable() {
		t.Error("completed step is runnable")
	}
}

func TestManager_DelayedIsRunnable(t *testing.T) {
	js, _ := state.Load([]byte(`{}`), state.JSON{}, nil)

	state.NewManager(js, "wait").MarkDelayed(json.RawMessage(`{"resume_at":"2026-01-01T00:00:00Z"}`))

	mgr := state.NewManager(js, "wait")
	if !mgr.Runnable() {
		t.Error("delayed step not runnable on resume")
	}
	if mgr.Get().Status != state.StatusDelayed {
		t.Errorf("status = %s, want delayed", mgr.Get().Status)
	}
}

func TestManager_ActiveLeftoverIsRunnable(t *testing.T) {
	js, _ := state.Load([]byte(`{}`), state.JSON{}, nil)

	// An invocation that died mid-step leaves the record active with no
	// outcome. The next delivery must be able to run it again.
	state.NewManager(js, "work").Begin()

	mgr := state.NewManager(js, "work")
	if !mgr.Runnable() {
		t.Fatal("active leftover step not runnable")
	}

	st := mgr.Begin()
	if st.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", st.Attempts)
	}
}

func TestNewFault_Kinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"plain", errors.New("boom"), state.FaultError},
		{"timeout", context.DeadlineExceeded, state.FaultTimeout},
		{"canceled", context.Canceled, state.FaultCanceled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := state.NewFault(tc.err)
			if f.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", f.Kind, tc.kind)
			}
		})
	}
}
