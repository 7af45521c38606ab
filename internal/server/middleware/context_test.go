package middleware

import (
	"context"
	"testing"
)

func TestWithIdentity_SetsValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "session-1")

	userID, ok := GetUserID(ctx)
	if !ok || userID != "user-1" {
		t.Errorf("GetUserID = %q, %v; want %q, true", userID, ok, "user-1")
	}
	sessionID, ok := GetSessionID(ctx)
	if !ok || sessionID != "session-1" {
		t.Errorf("GetSessionID = %q, %v; want %q, true", sessionID, ok, "session-1")
	}
}

func TestGetUserID_Unset(t *testing.T) {
	if _, ok := GetUserID(context.Background()); ok {
		t.Error("GetUserID on empty context should return false")
	}
	if _, ok := GetUserID(WithIdentity(context.Background(), "", "")); ok {
		t.Error("GetUserID with empty id should return false")
	}
}

func TestClientFromContext(t *testing.T) {
	ip, ua := ClientFromContext(context.Background())
	if ip != "" || ua != "" {
		t.Errorf("empty context: got %q %q", ip, ua)
	}
	ip, ua = ClientFromContext(WithClient(context.Background(), "198.51.100.1", "curl/8"))
	if ip != "198.51.100.1" || ua != "curl/8" {
		t.Errorf("got %q %q", ip, ua)
	}
}
