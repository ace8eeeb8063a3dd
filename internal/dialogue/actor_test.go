package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/menu"
	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

type sentDescriptor struct {
	channelNumberID string
	userID          string
	descriptor      domain.Descriptor
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentDescriptor
	err  error
}

func (f *fakeSender) Send(_ context.Context, channelNumberID, userID string, d domain.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentDescriptor{channelNumberID, userID, d})
	return nil
}

type fakeCatalog struct {
	total int
	calls []int
	err   error
}

func (f *fakeCatalog) ListProducts(_ context.Context, _ string, skip, take int) (*domain.ProductPage, error) {
	f.calls = append(f.calls, skip)
	if f.err != nil {
		return nil, f.err
	}
	page := &domain.ProductPage{Total: f.total, Skip: skip, Take: take}
	for i := skip; i < skip+take && i < f.total; i++ {
		page.Items = append(page.Items, domain.Product{
			ID:       fmt.Sprintf("p%d", i),
			Name:     fmt.Sprintf("Product %d", i),
			Price:    "5.00",
			Currency: "USD",
		})
	}
	return page, nil
}

type fakeForwarder struct {
	got chan FreeText
}

func (f *fakeForwarder) Forward(_ context.Context, ft FreeText) error {
	f.got <- ft
	return nil
}

type harness struct {
	sender    *fakeSender
	catalog   *fakeCatalog
	forwarder *fakeForwarder
	events    []Event
}

func newHarness(total int) *harness {
	return &harness{
		sender:    &fakeSender{},
		catalog:   &fakeCatalog{total: total},
		forwarder: &fakeForwarder{got: make(chan FreeText, 4)},
	}
}

func (h *harness) actor(snap Snapshot, opts ...Option) *Actor {
	opts = append(opts, WithJournal(func(ev Event) { h.events = append(h.events, ev) }))
	return NewActor(Dependencies{
		Sender:        h.sender,
		Catalog:       h.catalog,
		FreeText:      h.forwarder,
		SettleTimeout: time.Second,
	}, snap, opts...)
}

// turn runs one orchestrated turn: deliver, then forward the transition.
func turn(t *testing.T, a *Actor, msg *domain.InboundMessage) *Outcome {
	t.Helper()
	out, err := a.Deliver(context.Background(), *msg)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, a.Send(context.Background(), TransitionEvent(out.Transition)))
	}
	return out
}

func TestActor_TextInHomeIsForwarded(t *testing.T) {
	h := newHarness(0)
	a := h.actor(freshSnapshot())

	out := turn(t, a, textMessage("m1", "hello"))
	require.Equal(t, TransitionNoChange, out.Transition)
	require.Empty(t, out.Messages)
	require.Equal(t, HomeReady, a.Snapshot().State)
	require.Empty(t, h.sender.sent)

	select {
	case ft := <-h.forwarder.got:
		require.Equal(t, "hello", ft.Body)
		require.Equal(t, "ch-1", ft.ChannelNumberID)
		require.Equal(t, "263771", ft.UserID)
		require.Equal(t, "Tariro", ft.Name)
	case <-time.After(time.Second):
		t.Fatal("free text was not forwarded")
	}
}

func TestActor_ProductsSelectionSendsFirstPage(t *testing.T) {
	h := newHarness(15)
	a := h.actor(freshSnapshot())

	out := turn(t, a, listReply("m1", menu.ItemProducts))
	require.Equal(t, TransitionProducts, out.Transition)

	snap := a.Snapshot()
	require.Equal(t, ProductsMenuReady, snap.State)
	require.Equal(t, Pagination{Skip: 0, Take: 7, CurrentPage: 1, TotalPages: 3, Total: 15}, snap.Context.Pagination)
	require.Equal(t, []int{0}, h.catalog.calls)

	require.Len(t, h.sender.sent, 1)
	list := h.sender.sent[0].descriptor
	require.Equal(t, domain.DescriptorRawBody, list.Kind)
	require.Contains(t, list.Body.Interactive.Body.Text, "page 1 of 3")
	sections := list.Body.Interactive.Action.Sections
	require.Len(t, sections[0].Rows, 7)
	require.Equal(t, "product:p0", sections[0].Rows[0].ID)
	require.Equal(t, "USD 5.00", sections[0].Rows[0].Description)
	require.Equal(t, []string{RowNext, RowExit}, rowIDs(sections[1].Rows))
}

func TestActor_PaginationAndExit(t *testing.T) {
	h := newHarness(15)
	snap := freshSnapshot()
	snap.State = ProductsMenuReady
	a := h.actor(snap)

	turn(t, a, listReply("m1", RowNext))
	require.Equal(t, 7, a.Snapshot().Context.Pagination.Skip)
	require.Equal(t, 2, a.Snapshot().Context.Pagination.CurrentPage)

	turn(t, a, listReply("m2", RowNext))
	require.Equal(t, 14, a.Snapshot().Context.Pagination.Skip)
	last := h.sender.sent[len(h.sender.sent)-1].descriptor
	require.Equal(t, []string{RowPrevious, RowExit}, rowIDs(last.Body.Interactive.Action.Sections[1].Rows))

	turn(t, a, listReply("m3", RowPrevious))
	require.Equal(t, 7, a.Snapshot().Context.Pagination.Skip)
	require.Equal(t, []int{7, 14, 7}, h.catalog.calls)

	turn(t, a, listReply("m4", RowExit))
	require.Equal(t, HomeReady, a.Snapshot().State)
	home := h.sender.sent[len(h.sender.sent)-1].descriptor
	require.Equal(t, domain.DescriptorMenu, home.Kind)
	require.Equal(t, menu.Home, home.Menu)
}

func TestActor_ProductSelectionReturnsDetail(t *testing.T) {
	h := newHarness(3)
	snap := freshSnapshot()
	snap.State = ProductsMenuReady
	a := h.actor(snap)

	msg := listReply("m1", "product:p1")
	msg.Interactive.ListReply.Title = "Product 1"
	msg.Interactive.ListReply.Description = "USD 5.00"
	out := turn(t, a, msg)

	require.Len(t, out.Messages, 1)
	require.Contains(t, out.Messages[0].Text, "*Product 1*")
	require.Equal(t, ProductsMenuReady, a.Snapshot().State)
	// the list is prompted again on re-entry
	require.Len(t, h.sender.sent, 1)
}

func TestActor_UnrecognizedHomeSelectionFallsBack(t *testing.T) {
	h := newHarness(0)
	a := h.actor(freshSnapshot())

	out := turn(t, a, listReply("m1", "unknown-item"))
	require.Equal(t, TransitionNoChange, out.Transition)
	require.Equal(t, domain.DescriptorText, out.Messages[0].Kind)
	require.Equal(t, domain.DescriptorMenu, out.Messages[1].Kind)
	require.Equal(t, HomeReady, a.Snapshot().State)
}

func TestActor_HandlerFaultsRevertToReady(t *testing.T) {
	cases := map[string]Handler{
		"error": func(context.Context, Request) (Outcome, error) { return Outcome{}, errors.New("boom") },
		"panic": func(context.Context, Request) (Outcome, error) { panic("kaboom") },
		"timeout": func(ctx context.Context, _ Request) (Outcome, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return Outcome{Transition: TransitionProducts}, nil
		},
		"no transition": func(context.Context, Request) (Outcome, error) { return Outcome{}, nil },
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(0)
			a := NewActor(Dependencies{Sender: h.sender, SettleTimeout: 50 * time.Millisecond}, freshSnapshot(), WithHandler(LeafHome, handler))

			out, err := a.Deliver(context.Background(), *textMessage("m1", "hi"))
			require.NoError(t, err)
			require.Nil(t, out)
			require.Equal(t, HomeReady, a.Snapshot().State)
			require.Nil(t, a.Snapshot().Context.Pending)
		})
	}
}

func TestActor_CatalogFailureSendsNotice(t *testing.T) {
	h := newHarness(0)
	h.catalog.err = errors.New("management api down")
	a := h.actor(freshSnapshot())

	turn(t, a, listReply("m1", menu.ItemProducts))
	require.Equal(t, ProductsMenuReady, a.Snapshot().State)
	require.Len(t, h.sender.sent, 1)
	require.Equal(t, catalogUnavailableText, h.sender.sent[0].descriptor.Text)
}

func TestActor_EntrySendFailureDoesNotBreakDialogue(t *testing.T) {
	h := newHarness(5)
	h.sender.err = errors.New("send api down")
	a := h.actor(freshSnapshot())

	turn(t, a, listReply("m1", menu.ItemProducts))
	require.Equal(t, ProductsMenuReady, a.Snapshot().State)
	require.Equal(t, 5, a.Snapshot().Context.Pagination.Total)
}

func TestActor_ReplayMatchesPersistedState(t *testing.T) {
	h := newHarness(20)
	a := h.actor(freshSnapshot())

	msgs := []*domain.InboundMessage{
		textMessage("m1", "hello"),
		listReply("m2", menu.ItemProducts),
		listReply("m3", RowNext),
		textMessage("m4", "what is this"),
		listReply("m5", RowNext),
		listReply("m6", RowPrevious),
		listReply("m7", RowExit),
		listReply("m8", menu.ItemProducts),
	}
	for _, m := range msgs {
		turn(t, a, m)
		// persist and rehydrate between turns like the orchestrator does
		data, err := a.Snapshot().Encode()
		require.NoError(t, err)
		snap, err := Decode(data)
		require.NoError(t, err)
		a = h.actor(snap)
	}

	replayed, err := Replay(freshSnapshot(), h.events)
	require.NoError(t, err)

	want, err := a.Snapshot().Encode()
	require.NoError(t, err)
	got, err := replayed.Encode()
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(got))
	require.Equal(t, ProductsMenuReady, replayed.State)
}

func rowIDs(rows []whatsapp.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}
