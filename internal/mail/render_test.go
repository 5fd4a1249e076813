package mail_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/model"
	"github.com/roach88/nodemon/internal/monitor"
)

const (
	testActionURL = "https://monitor.example.net/run_action?signed_action=TOKEN"
	testListURL   = "https://monitor.example.net/list?email=a%40example.com"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRender_ConfirmAction(t *testing.T) {
	tmpl, err := mail.ParseTemplates()
	require.NoError(t, err)

	cases := []struct {
		kind   string
		nodeID string
	}{
		{"subscribe", "node1"},
		{"unsubscribe", "node1"},
		{"confirm_email", ""},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			msg, err := tmpl.Render(monitor.TemplateConfirmAction, monitor.ConfirmationData{
				Instance:  "Freifunk Test",
				Kind:      tc.kind,
				Email:     "a@example.com",
				NodeID:    tc.nodeID,
				ActionURL: testActionURL,
				ListURL:   testListURL,
			})
			require.NoError(t, err)
			assert.Equal(t, "[Freifunk Test] Please confirm your request", msg.Subject)
			newGoldie(t).Assert(t, "confirm_"+tc.kind, []byte(msg.String()))
		})
	}
}

func TestRender_Notify(t *testing.T) {
	tmpl, err := mail.ParseTemplates()
	require.NoError(t, err)

	msg, err := tmpl.Render(monitor.TemplateNotify, monitor.TransitionData{
		Instance:       "Freifunk Test",
		Email:          "a@example.com",
		NodeID:         "c04a00dd692a",
		NodeName:       "ffm-hauptbahnhof",
		From:           model.StatusUnknown,
		To:             model.StatusOnline,
		ListURL:        testListURL,
		UnsubscribeURL: "https://monitor.example.net/run_action?signed_action=UNSUB",
	})
	require.NoError(t, err)
	assert.Equal(t, "[Freifunk Test] ffm-hauptbahnhof is now online", msg.Subject)
	newGoldie(t).Assert(t, "notify_online", []byte(msg.String()))
}

func TestRender_UnknownTemplate(t *testing.T) {
	tmpl, err := mail.ParseTemplates()
	require.NoError(t, err)

	_, err = tmpl.Render("does_not_exist", nil)
	require.Error(t, err)
}

func TestRender_MissingField(t *testing.T) {
	tmpl, err := mail.ParseTemplates()
	require.NoError(t, err)

	_, err = tmpl.Render(monitor.TemplateNotify, map[string]any{"Instance": "x"})
	require.Error(t, err)
}
