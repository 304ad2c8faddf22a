package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/autopilot/pkg/autopilot"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 19, 30, 0, 0, time.UTC)

func newTestServer(e Engine) http.Handler {
	srv := &Server{
		engine:     e,
		listenAddr: ":8080",
		serverName: "autopilot",
		now:        func() time.Time { return testNow },
	}
	return srv.setupHandler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestHealthz(t *testing.T) {
	w := do(newTestServer(&mockEngine{}), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "autopilot", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHandleTick(t *testing.T) {
	t.Run("single home from query", func(t *testing.T) {
		e := &mockEngine{}
		e.On("Tick", mock.Anything, "home1").Return(autopilot.Summary{Succeeded: 2, Penalty: 1}, nil)

		w := do(newTestServer(e), "POST", "/api/tick?homeID=home1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var sum autopilot.Summary
		require.NoError(t, json.NewDecoder(w.Body).Decode(&sum))
		assert.Equal(t, 2, sum.Succeeded)
		e.AssertExpectations(t)
	})

	t.Run("single home from body", func(t *testing.T) {
		e := &mockEngine{}
		e.On("Tick", mock.Anything, "home2").Return(autopilot.Summary{}, nil)

		w := do(newTestServer(e), "POST", "/api/tick", `{"homeID":"home2"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		e.AssertExpectations(t)
	})

	t.Run("all homes", func(t *testing.T) {
		e := &mockEngine{}
		e.On("TickAll", mock.Anything).Return(autopilot.Summary{Message: "ticked 3 homes"}, errors.New("home x: boom"))

		w := do(newTestServer(e), "POST", "/api/tick", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ticked 3 homes")
		e.AssertNotCalled(t, "Tick", mock.Anything, mock.Anything)
	})

	t.Run("unknown home", func(t *testing.T) {
		e := &mockEngine{}
		e.On("Tick", mock.Anything, "nope").Return(autopilot.Summary{}, fmt.Errorf("failed to get home: %w", storage.ErrHomeNotFound))

		w := do(newTestServer(e), "POST", "/api/tick?homeID=nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		e := &mockEngine{}
		e.On("Tick", mock.Anything, "home1").Return(autopilot.Summary{}, errors.New("connection refused"))

		w := do(newTestServer(e), "POST", "/api/tick?homeID=home1", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "failed to tick home", errorBody(t, w))
	})

	t.Run("bad body", func(t *testing.T) {
		w := do(newTestServer(&mockEngine{}), "POST", "/api/tick", `{"home":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := do(newTestServer(&mockEngine{}), "GET", "/api/tick", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleGridEvents(t *testing.T) {
	t.Run("critical event", func(t *testing.T) {
		e := &mockEngine{}
		e.On("OnGridEvent", mock.Anything, mock.MatchedBy(func(ev types.GridEvent) bool {
			// a missing start time is filled in with now
			return ev.ID == "ev1" && ev.Severity == types.GridSeverityCritical && ev.StartTime.Equal(testNow)
		}), []string{"home1"}).Return(autopilot.Summary{Succeeded: 1}, nil)

		w := do(newTestServer(e), "POST", "/api/grid-events", `{"event":{"id":"ev1","severity":"critical"},"homeIDs":["home1"]}`)
		assert.Equal(t, http.StatusOK, w.Code)
		e.AssertExpectations(t)
	})

	t.Run("cleared", func(t *testing.T) {
		e := &mockEngine{}
		e.On("OnGridEventCleared", mock.Anything, mock.Anything, []string(nil)).Return(autopilot.Summary{Succeeded: 3}, nil)

		w := do(newTestServer(e), "POST", "/api/grid-events/clear", `{"event":{"id":"ev1","severity":"warning"}}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"succeeded":3`)
	})

	t.Run("validation", func(t *testing.T) {
		h := newTestServer(&mockEngine{})
		tests := []struct {
			name string
			body string
			msg  string
		}{
			{"missing id", `{"event":{"severity":"critical"}}`, "event id is required"},
			{"bad severity", `{"event":{"id":"ev1","severity":"apocalyptic"}}`, "invalid severity"},
			{"unknown field", `{"event":{"id":"ev1","severity":"info"},"extra":1}`, "invalid request body"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := do(h, "POST", "/api/grid-events", tt.body)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, errorBody(t, w), tt.msg)
			})
		}
	})
}

func TestHandleTimeline(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := &mockEngine{}
		e.On("Outlook", mock.Anything, "home1", 3).Return(autopilot.Outlook{HomeID: "home1", CurrentHour: 19}, nil)

		w := do(newTestServer(e), "GET", "/api/timeline?homeID=home1&hours=3", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var o autopilot.Outlook
		require.NoError(t, json.NewDecoder(w.Body).Decode(&o))
		assert.Equal(t, 19, o.CurrentHour)
	})

	t.Run("no window", func(t *testing.T) {
		e := &mockEngine{}
		e.On("Outlook", mock.Anything, "home1", 0).Return(autopilot.Outlook{}, nil)

		w := do(newTestServer(e), "GET", "/api/timeline?homeID=home1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		e.AssertExpectations(t)
	})

	t.Run("bad params", func(t *testing.T) {
		h := newTestServer(&mockEngine{})
		for _, target := range []string{
			"/api/timeline",
			"/api/timeline?homeID=home1&hours=0",
			"/api/timeline?homeID=home1&hours=25",
			"/api/timeline?homeID=home1&hours=abc",
		} {
			w := do(h, "GET", target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
		}
	})
}

func TestHandleHistoryActions(t *testing.T) {
	t.Run("default range", func(t *testing.T) {
		e := &mockEngine{}
		e.On("History", mock.Anything, "home1", testNow.Add(-24*time.Hour), testNow).Return([]types.ActionLog{{ID: "a1"}}, nil)

		w := do(newTestServer(e), "GET", "/api/history/actions?homeID=home1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "private, max-age=60", w.Header().Get("Cache-Control"))
		var logs []types.ActionLog
		require.NoError(t, json.NewDecoder(w.Body).Decode(&logs))
		assert.Len(t, logs, 1)
	})

	t.Run("past range is cached", func(t *testing.T) {
		start := testNow.Add(-72 * time.Hour)
		end := testNow.Add(-48 * time.Hour)
		e := &mockEngine{}
		e.On("History", mock.Anything, "home1", start, end).Return([]types.ActionLog{}, nil)

		w := do(newTestServer(e), "GET", fmt.Sprintf("/api/history/actions?homeID=home1&start=%s&end=%s", start.Format(time.RFC3339), end.Format(time.RFC3339)), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "private, max-age=86400", w.Header().Get("Cache-Control"))
	})

	t.Run("parse dates", func(t *testing.T) {
		h := newTestServer(&mockEngine{})
		tests := []struct {
			name   string
			start  string
			end    string
			errMsg string
		}{
			{"invalid start", "invalid", testNow.Format(time.RFC3339), "invalid start time"},
			{"invalid end", testNow.Format(time.RFC3339), "invalid", "invalid end time"},
			{"reversed", testNow.Format(time.RFC3339), testNow.Add(-time.Hour).Format(time.RFC3339), "start time must be before end time"},
			{"too long", testNow.Add(-8 * 24 * time.Hour).Format(time.RFC3339), testNow.Format(time.RFC3339), "cannot exceed 7 days"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := do(h, "GET", fmt.Sprintf("/api/history/actions?homeID=home1&start=%s&end=%s", tt.start, tt.end), "")
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, errorBody(t, w), tt.errMsg)
			})
		}
	})

	t.Run("missing home", func(t *testing.T) {
		w := do(newTestServer(&mockEngine{}), "GET", "/api/history/actions", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleApplianceAction(t *testing.T) {
	t.Run("defaults to user", func(t *testing.T) {
		e := &mockEngine{}
		e.On("RecordUserAction", mock.Anything, "home1", "ac1", types.ActorUser, types.ActionTurnOn).
			Return(types.ActionLog{Actor: types.ActorUser, Result: types.ActionResultSuccess}, nil)

		w := do(newTestServer(e), "POST", "/api/appliances/action", `{"homeID":"home1","applianceID":"ac1","action":"turn_on"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		e.AssertExpectations(t)
	})

	t.Run("physical", func(t *testing.T) {
		e := &mockEngine{}
		e.On("RecordUserAction", mock.Anything, "home1", "ac1", types.ActorPhysical, types.ActionTurnOff).Return(types.ActionLog{}, nil)

		w := do(newTestServer(e), "POST", "/api/appliances/action", `{"homeID":"home1","applianceID":"ac1","actor":"physical","action":"turn_off"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		e.AssertExpectations(t)
	})

	t.Run("invalid action", func(t *testing.T) {
		e := &mockEngine{}
		e.On("RecordUserAction", mock.Anything, "home1", "ac1", types.ActorUser, types.ActionEmergencyOff).
			Return(types.ActionLog{}, fmt.Errorf("%w: action %q", autopilot.ErrInvalidAction, types.ActionEmergencyOff))

		w := do(newTestServer(e), "POST", "/api/appliances/action", `{"homeID":"home1","applianceID":"ac1","action":"emergency_off"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown appliance", func(t *testing.T) {
		e := &mockEngine{}
		e.On("RecordUserAction", mock.Anything, "home1", "nope", types.ActorUser, types.ActionTurnOn).
			Return(types.ActionLog{}, fmt.Errorf("failed to get appliance: %w", storage.ErrApplianceNotFound))

		w := do(newTestServer(e), "POST", "/api/appliances/action", `{"homeID":"home1","applianceID":"nope","action":"turn_on"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing ids", func(t *testing.T) {
		w := do(newTestServer(&mockEngine{}), "POST", "/api/appliances/action", `{"action":"turn_on"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
