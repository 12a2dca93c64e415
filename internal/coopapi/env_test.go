package coopapi

import "testing"

func TestListEnvErrorsWhenChildNotRunning(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := ListEnv(store)
	if err == nil || err.Code != Exited {
		t.Fatalf("expected Exited, got %+v", err)
	}
}

func TestGetEnvPrefersPendingOverride(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetChildPID(123)
	PutEnv(store, "FOO", "staged")

	res, err := GetEnv(store, "FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != "pending" || res.Value != "staged" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDeleteEnvReportsPresence(t *testing.T) {
	store, _ := newTestStore(t)
	PutEnv(store, "FOO", "bar")
	if !DeleteEnv(store, "FOO") {
		t.Fatal("expected delete to report presence")
	}
	if DeleteEnv(store, "FOO") {
		t.Fatal("expected second delete to report absence")
	}
}

func TestGetSessionCwdErrorsWhenChildNotRunning(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := GetSessionCwd(store)
	if err == nil || err.Code != Exited {
		t.Fatalf("expected Exited, got %+v", err)
	}
}
