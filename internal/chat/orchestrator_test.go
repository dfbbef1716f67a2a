package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/signdesk/internal/agent"
	"github.com/ashureev/signdesk/internal/crm"
	"github.com/ashureev/signdesk/internal/domain"
	"github.com/ashureev/signdesk/internal/session"
	"github.com/ashureev/signdesk/internal/sheets"
	"github.com/ashureev/signdesk/internal/store"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoResponder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (e *echoResponder) Generate(_ context.Context, req agent.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return "", errors.New("model unavailable")
	}
	if strings.Contains(req.Message, "quote") {
		return "Sure, fill this in. " + agent.QuoteFormTrigger, nil
	}
	return "re: " + req.Message, nil
}

func (e *echoResponder) Close() {}

type memSheet struct {
	mu      sync.Mutex
	rows    [][]any
	appends int
	updates int
}

func (m *memSheet) AppendRow(_ context.Context, row []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	m.rows = append(m.rows, row)
	return nil
}

func (m *memSheet) ReadAll(_ context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows))
	for i, r := range m.rows {
		for _, c := range r {
			out[i] = append(out[i], fmt.Sprint(c))
		}
	}
	return out, nil
}

func (m *memSheet) UpdateRow(_ context.Context, n int, row []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.rows[n-1] = row
	return nil
}

type memCRM struct {
	mu       sync.Mutex
	contacts map[string]string
	created  int
	pushes   map[string]int
	lastText map[string]string
}

func newMemCRM() *memCRM {
	return &memCRM{contacts: map[string]string{}, pushes: map[string]int{}, lastText: map[string]string{}}
}

func (c *memCRM) SearchByEmail(_ context.Context, email string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.contacts[email]
	return id, ok, nil
}

func (c *memCRM) CreateContact(_ context.Context, props map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.contacts[props["email"]]; ok {
		return "", &crm.ConflictError{ExistingID: id}
	}
	c.created++
	id := strconv.Itoa(1000 + c.created)
	c.contacts[props["email"]] = id
	return id, nil
}

func (c *memCRM) UpdateContact(_ context.Context, id string, props map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text, ok := props[crm.ConversationProperty]; ok {
		c.pushes[id]++
		c.lastText[id] = text
	}
	return nil
}

type fixture struct {
	orch      *Orchestrator
	coord     *store.Coordinator
	cache     *session.Cache
	sheet     *memSheet
	crm       *memCRM
	responder *echoResponder
	primary   *store.SQLiteBackend
}

type fixtureOpts struct {
	noSheet bool
	noCRM   bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	primary, err := store.NewSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)

	f := &fixture{
		primary:   primary,
		crm:       newMemCRM(),
		responder: &echoResponder{},
	}
	f.coord = store.NewCoordinator(context.Background(), primary, store.NewFileBackend(t.TempDir()), store.CoordinatorOptions{})
	t.Cleanup(func() { _ = f.coord.Close() })
	f.cache = session.New(f.coord, session.Options{})

	var sheet sheets.Sheet
	if !opts.noSheet {
		f.sheet = &memSheet{}
		sheet = f.sheet
	}
	sink := sheets.NewSink(sheet, f.coord, sheets.SinkOptions{})

	var client crm.Client
	if !opts.noCRM {
		client = f.crm
	}
	policy := crm.NewPolicy(client, f.cache, f.coord, crm.PolicyOptions{})

	f.orch = New(f.cache, f.coord, sink, policy, agent.NewService(f.responder, time.Second), Options{})
	return f
}

func TestThreeTurnScenario(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	res, err := f.orch.HandleTurn(ctx, "s1", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "re: hi", res.Reply)
	assert.Equal(t, 2, res.MessageCount)
	assert.Zero(t, f.crm.created, "no contact without an email")

	res, err = f.orch.HandleTurn(ctx, "s1", "my email is a@b.com", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 4, res.MessageCount)
	snap, ok := f.cache.Snapshot("s1")
	require.True(t, ok)
	assert.NotEmpty(t, snap.ContactID, "contact set after the second turn")
	contactID := snap.ContactID

	res, err = f.orch.HandleTurn(ctx, "s1", "I want a mockup", "")
	require.NoError(t, err)
	assert.Equal(t, 6, res.MessageCount)

	sess, env := f.coord.GetSession(ctx, "s1")
	require.True(t, env.Found())
	assert.Equal(t, store.TierPrimary, env.Tier)
	assert.Len(t, sess.Messages, 6)
	assert.Equal(t, "a@b.com", sess.Email)
	assert.Equal(t, contactID, sess.ContactID)
	for i, m := range sess.Messages {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}

	assert.Equal(t, 1, f.crm.created)
	assert.Equal(t, 1, f.crm.pushes[contactID], "second push is inside the throttle window")

	require.Len(t, f.sheet.rows, 1, "one spreadsheet row per session")
	assert.Equal(t, 1, f.sheet.appends)
	assert.Equal(t, 1, f.sheet.updates)
	assert.Equal(t, 6, f.sheet.rows[0][3])
}

func TestQuoteTriggerIsStripped(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	res, err := f.orch.HandleTurn(context.Background(), "s1", "I need a quote", "")
	require.NoError(t, err)
	assert.True(t, res.QuoteFormTriggered)
	assert.NotContains(t, res.Reply, agent.QuoteFormTrigger)

	snap, _ := f.cache.Snapshot("s1")
	assert.NotContains(t, snap.Messages[1].Content, agent.QuoteFormTrigger)
}

func TestGenerationFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.responder.fail = true
	ctx := context.Background()

	res, err := f.orch.HandleTurn(ctx, "s1", "hello?", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeneration))
	assert.Equal(t, ApologyReply, res.Reply)
	assert.Equal(t, 1, res.MessageCount)

	sess, env := f.coord.GetSession(ctx, "s1")
	require.True(t, env.Found())
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "hello?", sess.Messages[0].Content)
}

func TestDisabledSinkDoesNotFailTurn(t *testing.T) {
	f := newFixture(t, fixtureOpts{noSheet: true, noCRM: true})

	res, err := f.orch.HandleTurn(context.Background(), "s1", "hi", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 2, res.MessageCount)
	assert.Equal(t, "re: hi", res.Reply)
}

func TestHandleTurnRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.orch.HandleTurn(context.Background(), "", "hi", "")
	assert.True(t, errdefs.IsInvalidArgument(err))
	_, err = f.orch.HandleTurn(context.Background(), "s1", "   ", "")
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.Zero(t, f.responder.calls)
}

func TestConcurrentTurnsSameSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orch.HandleTurn(ctx, "s1", fmt.Sprintf("msg %d", i), "a@b.com")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, env := f.coord.GetSession(ctx, "s1")
	require.True(t, env.Found())
	require.Len(t, sess.Messages, 20)
	for i := 0; i < 20; i += 2 {
		user, assistant := sess.Messages[i], sess.Messages[i+1]
		assert.Equal(t, domain.RoleUser, user.Role)
		assert.Equal(t, "re: "+user.Content, assistant.Content, "turns interleaved at %d", i)
	}
	assert.Equal(t, 1, f.crm.created)
	assert.Len(t, f.sheet.rows, 1)
}

func TestSessionResumesAfterRestart(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.orch.HandleTurn(ctx, "s1", "hi", "a@b.com")
	require.NoError(t, err)

	// A fresh cache on the same store behaves like a restarted process.
	f.cache = session.New(f.coord, session.Options{})
	f.orch = New(f.cache, f.coord, f.orch.sink, crm.NewPolicy(f.crm, f.cache, f.coord, crm.PolicyOptions{}), f.orch.agent, Options{})

	tr, err := f.orch.GetSessionTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, tr.Found)
	assert.Equal(t, 2, tr.MessageCount())
	assert.Equal(t, "a@b.com", tr.Email)

	res, err := f.orch.HandleTurn(ctx, "s1", "again", "")
	require.NoError(t, err)
	assert.Equal(t, 4, res.MessageCount)
	assert.Equal(t, 1, f.crm.created)
}

func TestGetSessionTranscriptUnknown(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	tr, err := f.orch.GetSessionTranscript(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, tr.Found)
	assert.Empty(t, tr.Messages)
	_, ok := f.cache.Snapshot("nobody")
	assert.False(t, ok)
}

func TestSaveQuoteSubmission(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.orch.HandleTurn(ctx, "s1", "hi", "a@b.com")
	require.NoError(t, err)

	first, err := f.orch.SaveQuoteSubmission(ctx, "s1", "a@b.com", map[string]any{"width": 10, "height": 5})
	require.NoError(t, err)
	second, err := f.orch.SaveQuoteSubmission(ctx, "s1", "a@b.com", map[string]any{"width": 12, "height": 5})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	q, err := f.orch.GetQuote(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, domain.QuoteStatusUpdated, q.Status)
	assert.Equal(t, float64(12), q.FormData["width"])

	require.Len(t, f.sheet.rows, 1)
	conv := f.sheet.rows[0][4].(string)
	assert.Contains(t, conv, "Size: 12 inches × 5 inches")
}

func TestSaveQuoteSubmissionConcurrent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.orch.SaveQuoteSubmission(ctx, "s1", "a@b.com", map[string]any{"width": i + 1})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	q, err := f.orch.GetQuote(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, domain.QuoteStatusUpdated, q.Status)
	for i, id := range ids {
		assert.Equal(t, q.ID, id, "submission %d", i)
	}
}

func TestSaveQuoteSubmissionValidation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	for _, tc := range []struct {
		key, email string
		form       map[string]any
	}{
		{"", "a@b.com", map[string]any{"width": 1}},
		{"s1", "", map[string]any{"width": 1}},
		{"s1", "a@b.com", nil},
	} {
		_, err := f.orch.SaveQuoteSubmission(ctx, tc.key, tc.email, tc.form)
		assert.True(t, errdefs.IsInvalidArgument(err), "key=%q email=%q", tc.key, tc.email)
	}
}

func TestGetQuoteMissing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	q, err := f.orch.GetQuote(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestValidateEmail(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	assert.False(t, f.orch.ValidateEmail(ctx, "s1", "").Valid)
	assert.False(t, f.orch.ValidateEmail(ctx, "s1", "not-an-email").Valid)

	res := f.orch.ValidateEmail(ctx, "s1", "a@b.com")
	assert.True(t, res.Valid)
	require.NotEmpty(t, res.ContactID)

	snap, ok := f.cache.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "a@b.com", snap.Email)
	assert.Equal(t, res.ContactID, snap.ContactID)

	sess, env := f.coord.GetSession(ctx, "s1")
	require.True(t, env.Found())
	assert.Equal(t, res.ContactID, sess.ContactID)
	assert.Equal(t, "a@b.com", sess.Email)

	anon := f.orch.ValidateEmail(ctx, "", "a@b.com")
	assert.Equal(t, res.ContactID, anon.ContactID)
	assert.Equal(t, 1, f.crm.created)
}

func TestValidEmail(t *testing.T) {
	for email, want := range map[string]bool{
		"a@b.com":         true,
		"first.last@x.io": true,
		"a+tag@sub.b.co":  true,
		"a@b":             false,
		"@b.com":          false,
		"a b@c.com":       false,
		"":                false,
	} {
		assert.Equal(t, want, ValidEmail(email), email)
	}
}
