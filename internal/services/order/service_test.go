package order

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *memStore
	notifier *recordingNotifier
	service  *Service
	burger   models.MenuItem
	fries    models.MenuItem
	cheese   models.MenuOption
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	store := newMemStore()
	f := &fixture{
		store:  store,
		burger: models.MenuItem{ID: uuid.New(), Name: "Burger", Category: "Mains", ImageURL: "/img/burger.png", Price: d("8.00"), IsAvailable: true},
		fries:  models.MenuItem{ID: uuid.New(), Name: "Fries", Category: "Sides", Price: d("5.00"), IsAvailable: true},
	}
	f.cheese = models.MenuOption{ID: uuid.New(), MenuItemID: f.burger.ID, GroupName: "Extras", Name: "Cheese", PriceDelta: d("0.50"), IsAvailable: true}
	store.items[f.burger.ID] = f.burger
	store.items[f.fries.ID] = f.fries
	store.options[f.cheese.ID] = f.cheese

	f.notifier = &recordingNotifier{store: store}
	f.service = NewService(store, f.notifier, Options{
		Prefix:   "ORD",
		Retries:  3,
		Location: ny,
		Policy:   pricing.NewPolicy(d("0.0875"), decimal.Zero, d("0.50")),
	}, logger.Discard())
	return f
}

// exampleCommand is two burgers with cheese and one fries
func (f *fixture) exampleCommand() models.CreateOrderCommand {
	return models.CreateOrderCommand{
		Phone: "555-010-0100",
		Name:  "Ann",
		Items: []models.OrderLineCommand{
			{
				MenuItemID: f.burger.ID, Quantity: 2, UnitPrice: d("8.00"), FinalPrice: d("17.00"),
				Options: []models.OptionSelectionCommand{{MenuOptionID: f.cheese.ID, Quantity: 1, PriceDelta: d("0.50")}},
			},
			{MenuItemID: f.fries.ID, Quantity: 1, UnitPrice: d("5.00"), FinalPrice: d("5.00")},
		},
		Subtotal:    d("22.00"),
		TaxAmount:   d("1.93"),
		ServiceFee:  d("0.50"),
		Total:       d("24.43"),
		OrderSource: models.DefaultOrderSource,
	}
}

func TestCreateOrder_SnapshotsAndPrices(t *testing.T) {
	f := newFixture(t)

	o, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if o.Status != models.StatusPending || o.PaymentStatus != models.PaymentUnpaid {
		t.Fatalf("initial state = %s/%s", o.Status, o.PaymentStatus)
	}
	if !o.Subtotal.Equal(d("22.00")) || !o.TaxAmount.Equal(d("1.93")) || !o.ServiceFee.Equal(d("0.50")) || !o.Total.Equal(d("24.43")) {
		t.Fatalf("totals = %s %s %s %s", o.Subtotal, o.TaxAmount, o.ServiceFee, o.Total)
	}
	if len(o.Items) != 2 {
		t.Fatalf("items = %d", len(o.Items))
	}
	first := o.Items[0]
	if first.NameSnapshot != "Burger" || first.CategorySnapshot != "Mains" || first.ImageURLSnapshot != "/img/burger.png" {
		t.Fatalf("snapshot = %+v", first)
	}
	if !first.FinalPrice.Equal(d("17.00")) || len(first.Options) != 1 || first.Options[0].OptionNameSnapshot != "Cheese" {
		t.Fatalf("first line = %+v", first)
	}

	if _, ok := f.store.committed(o.ID); !ok {
		t.Fatalf("order not committed")
	}
	if len(f.store.state.log) != 1 || f.store.state.log[0].Status != models.StatusPending {
		t.Fatalf("status log = %+v", f.store.state.log)
	}
}

func TestCreateOrder_SnapshotSurvivesMenuEdit(t *testing.T) {
	f := newFixture(t)
	o, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req")
	if err != nil {
		t.Fatal(err)
	}

	edited := f.burger
	edited.Name = "Deluxe Burger"
	edited.Price = d("12.00")
	f.store.items[f.burger.ID] = edited

	stored, _ := f.store.committed(o.ID)
	if stored.Items[0].NameSnapshot != "Burger" || !stored.Items[0].UnitPrice.Equal(d("8.00")) {
		t.Fatalf("snapshot changed with menu: %+v", stored.Items[0])
	}
}

func TestCreateOrder_EmitsEventAfterCommit(t *testing.T) {
	f := newFixture(t)
	o, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req")
	if err != nil {
		t.Fatal(err)
	}

	if len(f.notifier.events) != 1 {
		t.Fatalf("events = %d", len(f.notifier.events))
	}
	ev := f.notifier.events[0]
	if ev.Type != models.EventOrderCreated || ev.ID() != o.ID.String() || !f.notifier.committed[0] {
		t.Fatalf("event %+v committed=%v", ev, f.notifier.committed[0])
	}
	if ev.Data.Date != models.BusinessDate(o.CreatedAt, f.service.Location()) {
		t.Fatalf("event date %s", ev.Data.Date)
	}
}

func TestCreateOrder_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	if _, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req"); err != nil {
		t.Fatalf("CreateOrder failed because of notifier: %v", err)
	}
	if f.store.orderCount() != 1 {
		t.Fatalf("order not stored")
	}
}

func TestCreateOrder_BadReferencesWriteNothing(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	deleted := models.MenuItem{ID: uuid.New(), Name: "Old", Price: d("3.00"), IsAvailable: true, DeletedAt: &now}
	unavailable := models.MenuItem{ID: uuid.New(), Name: "Soup", Price: d("4.00"), IsAvailable: false}
	f.store.items[deleted.ID] = deleted
	f.store.items[unavailable.ID] = unavailable
	unknown := uuid.New()

	cmd := f.exampleCommand()
	cmd.Items = append(cmd.Items,
		models.OrderLineCommand{MenuItemID: deleted.ID, Quantity: 1, UnitPrice: d("3.00"), FinalPrice: d("3.00")},
		models.OrderLineCommand{MenuItemID: unavailable.ID, Quantity: 1, UnitPrice: d("4.00"), FinalPrice: d("4.00")},
		models.OrderLineCommand{MenuItemID: unknown, Quantity: 1, UnitPrice: d("1.00"), FinalPrice: d("1.00")},
	)

	_, err := f.service.CreateOrder(context.Background(), cmd, "req")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	reasons := map[string]string{}
	for _, ref := range nf.Refs {
		reasons[ref.ID] = ref.Reason
	}
	want := map[string]string{
		deleted.ID.String():     "deleted",
		unavailable.ID.String(): "unavailable",
		unknown.String():        "unknown",
	}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("refs = %v, want %v", reasons, want)
	}

	if f.store.orderCount() != 0 || len(f.store.state.log) != 0 {
		t.Fatalf("rows written after failed create")
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("event emitted for failed create")
	}
}

func TestCreateOrder_OptionOfAnotherItem(t *testing.T) {
	f := newFixture(t)
	cmd := f.exampleCommand()
	cmd.Items[1].Options = []models.OptionSelectionCommand{{MenuOptionID: f.cheese.ID, Quantity: 1}}

	_, err := f.service.CreateOrder(context.Background(), cmd, "req")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) || len(nf.Refs) != 1 || nf.Refs[0].Kind != "menu_option" {
		t.Fatalf("expected option reference error, got %v", err)
	}
}

func TestOptionPrices_OnlyOrderableOptionsOfTheItem(t *testing.T) {
	f := newFixture(t)
	removed := time.Now()
	soldOut := models.MenuOption{ID: uuid.New(), MenuItemID: f.burger.ID, Name: "Bacon", PriceDelta: d("1.50")}
	gone := models.MenuOption{ID: uuid.New(), MenuItemID: f.burger.ID, Name: "Onion", PriceDelta: d("0.25"), IsAvailable: true, DeletedAt: &removed}
	salt := models.MenuOption{ID: uuid.New(), MenuItemID: f.fries.ID, Name: "Salt", PriceDelta: d("0.10"), IsAvailable: true}
	catalog := map[uuid.UUID]models.MenuOption{f.cheese.ID: f.cheese, soldOut.ID: soldOut, gone.ID: gone, salt.ID: salt}

	prices := optionPrices(f.burger.ID, catalog)
	opts, err := prices.Resolve([]pricing.Selection{{ID: f.cheese.ID.String(), Quantity: 2}})
	if err != nil || len(opts) != 1 || !opts[0].PriceDelta.Equal(d("0.50")) || opts[0].Quantity != 2 {
		t.Fatalf("Resolve = %+v, %v", opts, err)
	}

	for _, other := range []models.MenuOption{soldOut, gone, salt} {
		_, err := prices.Resolve([]pricing.Selection{{ID: other.ID.String(), Quantity: 1}})
		var unknown *pricing.ErrUnknownOption
		if !errors.As(err, &unknown) {
			t.Fatalf("%s resolved for burger: %v", other.Name, err)
		}
	}
}

func TestCreateOrder_RejectsStaleClientPrices(t *testing.T) {
	f := newFixture(t)
	cmd := f.exampleCommand()

	repriced := f.burger
	repriced.Price = d("9.00")
	f.store.items[f.burger.ID] = repriced

	_, err := f.service.CreateOrder(context.Background(), cmd, "req")
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.store.orderCount() != 0 {
		t.Fatalf("order stored despite price mismatch")
	}
}

func TestCreateOrder_RetriesOrderNumberConflict(t *testing.T) {
	f := newFixture(t)
	suffixes := []int{42, 42, 7}
	f.service.suffix = func() int {
		n := suffixes[0]
		suffixes = suffixes[1:]
		return n
	}
	fixed := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return fixed }

	first, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req")
	if err != nil {
		t.Fatal(err)
	}
	if first.OrderNumber != "ORD261018-0042" {
		t.Fatalf("order number = %s", first.OrderNumber)
	}

	txsBefore := f.store.txs
	second, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req")
	if err != nil {
		t.Fatalf("CreateOrder after collision: %v", err)
	}
	if second.OrderNumber != "ORD261018-0007" {
		t.Fatalf("retried order number = %s", second.OrderNumber)
	}
	if f.store.txs-txsBefore != 2 {
		t.Fatalf("expected 2 transactions, got %d", f.store.txs-txsBefore)
	}
}

func TestCreateOrder_GivesUpAfterRetryBound(t *testing.T) {
	f := newFixture(t)
	f.service.suffix = func() int { return 1 }

	if _, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req"); err != nil {
		t.Fatal(err)
	}
	_, err := f.service.CreateOrder(context.Background(), f.exampleCommand(), "req")
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError after retries, got %v", err)
	}
	if f.store.orderCount() != 1 {
		t.Fatalf("orders = %d", f.store.orderCount())
	}
}

func TestOrderNumber_UsesBusinessDay(t *testing.T) {
	f := newFixture(t)
	f.service.suffix = func() int { return 5 }
	// 01:00 UTC on the 19th is the 18th in New York
	got := f.service.OrderNumber(time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC))
	if got != "ORD261018-0005" {
		t.Fatalf("OrderNumber = %s", got)
	}
}

func TestUpdateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.service.CreateOrder(ctx, f.exampleCommand(), "req")
	if err != nil {
		t.Fatal(err)
	}

	preparing := models.StatusPreparing
	paid := models.PaymentPaid
	updated, err := f.service.UpdateOrder(ctx, o.ID, models.OrderPatch{Status: &preparing, PaymentStatus: &paid}, "alice", "req")
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated.Status != models.StatusPreparing || updated.PaymentStatus != models.PaymentPaid {
		t.Fatalf("updated = %+v", updated)
	}
	if !updated.UpdatedAt.After(o.UpdatedAt) {
		t.Fatalf("updatedAt did not advance")
	}

	last := f.notifier.events[len(f.notifier.events)-1]
	if last.Type != models.EventOrderUpdated || last.Data.Order.Status != models.StatusPreparing {
		t.Fatalf("last event = %+v", last)
	}
	log := f.store.state.log
	if log[len(log)-1].ChangedBy != "alice" {
		t.Fatalf("status log actor = %s", log[len(log)-1].ChangedBy)
	}
}

func TestUpdateOrder_RejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.service.CreateOrder(ctx, f.exampleCommand(), "req")
	events := len(f.notifier.events)

	ready := models.StatusReady
	_, err := f.service.UpdateOrder(ctx, o.ID, models.OrderPatch{Status: &ready}, "alice", "req")
	var terr *models.InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if !reflect.DeepEqual(terr.Allowed, []string{"PREPARING", "CANCELLED"}) {
		t.Fatalf("allowed = %v", terr.Allowed)
	}

	stored, _ := f.store.committed(o.ID)
	if stored.Status != models.StatusPending {
		t.Fatalf("status changed to %s", stored.Status)
	}
	if len(f.notifier.events) != events {
		t.Fatalf("event emitted for rejected update")
	}
}

func TestUpdateOrder_ValidatesAgainstCommittedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.service.CreateOrder(ctx, f.exampleCommand(), "req")

	cancelled := models.StatusCancelled
	if _, err := f.service.UpdateOrder(ctx, o.ID, models.OrderPatch{Status: &cancelled}, "alice", "req"); err != nil {
		t.Fatal(err)
	}
	// a second client still holding the PENDING copy tries to start preparing
	preparing := models.StatusPreparing
	_, err := f.service.UpdateOrder(ctx, o.ID, models.OrderPatch{Status: &preparing}, "bob", "req")
	var terr *models.InvalidTransitionError
	if !errors.As(err, &terr) || terr.Current != "CANCELLED" {
		t.Fatalf("expected rejection from CANCELLED, got %v", err)
	}
}

func TestUpdateOrder_UnknownAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	preparing := models.StatusPreparing
	_, err := f.service.UpdateOrder(ctx, uuid.New(), models.OrderPatch{Status: &preparing}, "alice", "req")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	_, err = f.service.UpdateOrder(ctx, uuid.New(), models.OrderPatch{}, "alice", "req")
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.service.CreateOrder(ctx, f.exampleCommand(), "req")

	if err := f.service.DeleteOrder(ctx, o.ID, "admin", "req"); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if f.store.orderCount() != 0 {
		t.Fatalf("order still stored")
	}
	last := f.notifier.events[len(f.notifier.events)-1]
	if last.Type != models.EventOrderDeleted || last.Data.Order != nil || last.Data.OrderID != o.ID.String() {
		t.Fatalf("delete event = %+v", last)
	}
	if !last.Data.At.After(o.UpdatedAt) {
		t.Fatalf("tombstone time %v not after last update %v", last.Data.At, o.UpdatedAt)
	}

	err := f.service.DeleteOrder(ctx, o.ID, "admin", "req")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("second delete: %v", err)
	}
}
