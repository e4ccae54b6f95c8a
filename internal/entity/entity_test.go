package entity

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahariaz/legacy_dump_migrator/internal/checkpoint"
	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/dump"
	"github.com/shahariaz/legacy_dump_migrator/internal/geocode"
	"github.com/shahariaz/legacy_dump_migrator/internal/idmap"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
	"github.com/shahariaz/legacy_dump_migrator/pkg/logger"
)

// # stands in for the backtick, which a raw string cannot hold
var fixture = strings.ReplaceAll(`
CREATE TABLE #buyers# (
  #id# int NOT NULL AUTO_INCREMENT,
  #first_name# varchar(50), #last_name# varchar(50), #email# varchar(100), #phone# varchar(20),
  #is_active# tinyint(1), #deleted_at# datetime, #created_at# datetime, #updated_at# datetime,
  PRIMARY KEY (#id#)
);
INSERT INTO #buyers# VALUES (1,'Ann','Lee','ann@example.com',NULL,1,NULL,'2023-01-01 10:00:00',NULL),
(2,'Bob','Ray','SHARED@example.com','0700',1,NULL,'2023-01-02 10:00:00',NULL),
(3,'Del','Eted','del@example.com',NULL,1,'2023-02-01 00:00:00','2023-01-03 10:00:00',NULL),
(4,'In','Active','ina@example.com',NULL,0,NULL,'2023-01-04 10:00:00',NULL),
(5,'No','Mail',NULL,NULL,1,NULL,'2023-01-05 10:00:00',NULL);

CREATE TABLE #stylists# (
  #id# int, #business_name# varchar(100), #first_name# varchar(50), #last_name# varchar(50),
  #email# varchar(100), #phone# varchar(20), #bio# text, #is_verified# tinyint(1), #is_active# tinyint(1),
  #deleted_at# datetime, #created_at# datetime, #updated_at# datetime
);
INSERT INTO #stylists# VALUES (7,'Cuts','Cat','Smith','cat@example.com',NULL,'Bio',1,1,NULL,'2023-01-01 09:00:00',NULL),
(2,'Shared Salon','Bob','Ray','shared@example.com',NULL,NULL,0,1,NULL,'2023-01-02 09:00:00',NULL);

CREATE TABLE #addresses# (
  #id# int, #user_id# int, #address_line_1# varchar(100), #address_line_2# varchar(100), #city# varchar(50),
  #postcode# varchar(10), #country# varchar(2), #location# point, #latitude# double, #longitude# double,
  #is_default# tinyint(1), #deleted_at# datetime, #created_at# datetime
);
INSERT INTO #addresses# VALUES (1,1,'1 High St',NULL,'Leeds','LS1 1AA','GB',NULL,53.8,-1.5,1,NULL,'2023-01-01 10:00:00'),
(2,2,'2 Low Rd','Flat 3','York','YO1 1AA','GB',NULL,NULL,NULL,0,NULL,'2023-01-01 10:00:00'),
(3,99,'9 Nowhere',NULL,NULL,NULL,NULL,NULL,NULL,NULL,0,NULL,'2023-01-01 10:00:00'),
(4,7,'7 Salon St',NULL,'Leeds','LS2 2BB','GB',NULL,53.7,-1.4,1,NULL,'2023-01-01 10:00:00');

CREATE TABLE #services# (
  #id# int, #stylist_id# int, #name# varchar(50), #description# text, #price# decimal(10,2),
  #duration_minutes# int, #is_active# tinyint(1), #deleted_at# datetime, #created_at# datetime
);
INSERT INTO #services# VALUES (1,7,'Cut','Basic cut','25.5',30,1,NULL,'2023-01-01 10:00:00'),
(2,7,'Colour',NULL,'abc',60,1,NULL,'2023-01-01 10:00:00'),
(3,2,'Beard',NULL,'10.00',15,1,NULL,'2023-01-01 10:00:00'),
(4,7,'Old',NULL,'5.00',10,0,NULL,'2023-01-01 10:00:00'),
(5,99,'Ghost',NULL,'5.00',10,1,NULL,'2023-01-01 10:00:00');

CREATE TABLE #bookings# (
  #id# int, #buyer_id# int, #stylist_id# int, #address_id# int, #service_ids# json, #scheduled_at# datetime,
  #status# int, #total_amount# decimal(10,2), #notes# text, #deleted_at# datetime, #created_at# datetime,
  #updated_at# datetime
);
INSERT INTO #bookings# VALUES (1,1,7,1,'[1,3]','2023-03-01 10:00:00',2,'35.5',NULL,NULL,'2023-02-01 10:00:00',NULL),
(2,2,2,99,'[]','2023-03-02 10:00:00',4,'10',NULL,NULL,'2023-02-01 10:00:00',NULL),
(3,42,7,NULL,NULL,'2023-03-03 10:00:00',1,NULL,NULL,NULL,'2023-02-01 10:00:00',NULL),
(4,1,7,NULL,'not json','2023-03-04 10:00:00',9,NULL,'Ring the bell',NULL,'2023-02-01 10:00:00',NULL);

CREATE TABLE #booking_services# (#id# int, #booking_id# int, #service_id# int, #price# decimal(10,2));
INSERT INTO #booking_services# VALUES (1,1,1,'25.50'),(2,1,2,'9.99');

CREATE TABLE #payments# (
  #id# int, #booking_id# int, #payment_intent_id# varchar(64), #amount# decimal(10,2), #currency# varchar(3),
  #status# varchar(32), #deleted_at# datetime, #created_at# datetime
);
INSERT INTO #payments# VALUES (1,1,'pi_1','35.5','GBP','succeeded',NULL,'2023-03-01 11:00:00'),
(2,2,'pi_2','10',NULL,'requires_payment_method',NULL,'2023-03-01 11:00:00'),
(3,3,'pi_3','5',NULL,'succeeded',NULL,'2023-03-01 11:00:00'),
(4,4,NULL,'5',NULL,'canceled',NULL,'2023-03-01 11:00:00');

CREATE TABLE #chats# (#id# int, #buyer_id# int, #stylist_id# int, #booking_id# int, #deleted_at# datetime, #created_at# datetime);
INSERT INTO #chats# VALUES (1,1,7,1,NULL,'2023-02-01 10:00:00'),(2,1,7,NULL,NULL,'2023-01-15 10:00:00'),
(3,2,2,NULL,NULL,'2023-02-01 10:00:00');

CREATE TABLE #chat_messages# (
  #id# int, #chat_id# int, #sender_id# int, #message# text, #is_read# tinyint(1), #deleted_at# datetime,
  #created_at# datetime
);
INSERT INTO #chat_messages# VALUES (1,1,1,'Hi',1,NULL,'2023-02-01 10:01:00'),
(2,2,7,'Hello, it''s Cat',0,NULL,'2023-02-01 10:02:00'),
(3,1,55,'?',0,NULL,'2023-02-01 10:03:00'),
(4,9,1,'lost',0,NULL,'2023-02-01 10:04:00'),
(5,3,2,'deleted',0,'2023-03-01 00:00:00','2023-02-01 10:05:00'),
(6,1,1,'Are you free?',0,NULL,'2023-02-01 10:01:00'),
(7,3,2,'No time',0,NULL,NULL);

CREATE TABLE #reviews# (
  #id# int, #booking_id# int, #buyer_id# int, #stylist_id# int, #rating# int, #comment# text,
  #deleted_at# datetime, #created_at# datetime
);
INSERT INTO #reviews# VALUES (1,1,1,7,5,'Great',NULL,'2023-03-02 10:00:00'),
(2,2,2,2,9,NULL,NULL,'2023-03-02 10:00:00'),
(3,1,1,7,4,'Dup',NULL,'2023-03-02 10:00:00');
`, "#", "`")

type stubGeocoder struct{}

func (stubGeocoder) Search(ctx context.Context, query string) ([]geocode.Candidate, error) {
	return []geocode.Candidate{{
		Text:       query,
		Latitude:   53.96,
		Longitude:  -1.08,
		Relevance:  0.95,
		Components: map[string]string{"postcode": "YO1 1AA"},
	}}, nil
}

func newEnv(t *testing.T) (*pipeline.Env, *destination.Memory) {
	t.Helper()
	dir := t.TempDir()
	mem := destination.NewMemory()
	return &pipeline.Env{
		Dump:             dump.New(fixture),
		Mapper:           legacy.NewMapper(nil),
		IDs:              idmap.NewStore(filepath.Join(dir, "mappings")),
		Checkpoints:      checkpoint.NewFileRepository(filepath.Join(dir, "checkpoints")),
		Destination:      mem,
		Enricher:         geocode.NewEnricher(stubGeocoder{}, 4, 0, logger.Discard()),
		Logger:           logger.Discard(),
		BatchSize:        3,
		ValidationSample: 50,
	}, mem
}

func count(t *testing.T, mem *destination.Memory, table string) int64 {
	t.Helper()
	n, err := mem.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func phaseStats(t *testing.T, r *pipeline.RunReport, entity string, phase pipeline.Phase) pipeline.Stats {
	t.Helper()
	for _, er := range r.Entities {
		if er.Entity != entity {
			continue
		}
		for _, p := range er.Phases {
			if p.Phase == phase {
				return p.Stats
			}
		}
	}
	t.Fatalf("no %s %s phase in report", entity, phase)
	return nil
}

func TestFullMigration(t *testing.T) {
	ctx := context.Background()
	env, mem := newEnv(t)
	o := pipeline.NewOrchestrator(env, Migrators(), pipeline.Options{DryRun: true})

	report, err := o.Run(ctx, nil, nil)
	require.NoError(t, err)
	for _, er := range report.Entities {
		require.Empty(t, er.Error, er.Entity)
		require.NotNil(t, er.Validation, er.Entity)
		assert.True(t, er.Validation.Passed, "%s: %+v", er.Entity, er.Validation)
	}
	assert.Equal(t, pipeline.ExitOK, report.Outcome())

	users := phaseStats(t, report, Users, pipeline.PhaseExtract)
	assert.Equal(t, 3, users[pipeline.StatExtracted])
	assert.Equal(t, 1, users[pipeline.StatExcludedDeleted])
	assert.Equal(t, 1, users[pipeline.StatExcludedInactive])
	assert.Equal(t, 1, users[pipeline.StatSkipped])
	assert.Equal(t, 1, users[pipeline.StatDuplicates])

	assert.Equal(t, int64(3), count(t, mem, TableUsers))
	assert.Equal(t, int64(2), count(t, mem, TableStylistProfiles))
	assert.Equal(t, int64(3), count(t, mem, TableAddresses))
	assert.Equal(t, int64(2), count(t, mem, TableServices))
	assert.Equal(t, int64(3), count(t, mem, TableBookings))
	assert.Equal(t, int64(2), count(t, mem, TableBookingServices))
	assert.Equal(t, int64(2), count(t, mem, TablePayments))
	assert.Equal(t, int64(2), count(t, mem, TableChats))
	assert.Equal(t, int64(4), count(t, mem, TableChatMessages))
	assert.Equal(t, int64(1), count(t, mem, TableReviews))

	// the buyer and the stylist sharing an e-mail are one stylist user
	buyer, ok, _ := env.IDs.Get(MappingBuyers, "2")
	require.True(t, ok)
	stylist, ok, _ := env.IDs.Get(MappingStylists, "2")
	require.True(t, ok)
	assert.Equal(t, buyer, stylist)
	row, err := mem.Get(ctx, TableUsers, buyer)
	require.NoError(t, err)
	assert.Equal(t, RoleStylist, row["role"])

	// address 2 had no coordinates
	addrID, _, _ := env.IDs.Get(MappingAddresses, "2")
	row, err = mem.Get(ctx, TableAddresses, addrID)
	require.NoError(t, err)
	assert.Equal(t, 53.96, row["latitude"])
	assert.Equal(t, "high", row["geocode_confidence"])
	assert.Equal(t, buyer, row["user_id"])

	addrID, _, _ = env.IDs.Get(MappingAddresses, "4")
	row, err = mem.Get(ctx, TableAddresses, addrID)
	require.NoError(t, err)
	assert.Nil(t, row["geocode_confidence"])

	bookings := phaseStats(t, report, Bookings, pipeline.PhaseExtract)
	assert.Equal(t, 1, bookings["unresolved_address"])
	assert.Equal(t, 1, bookings["unresolved_service"])
	assert.Equal(t, 1, bookings["duplicate_service_links"])

	bookingID, _, _ := env.IDs.Get(MappingBookings, "1")
	row, err = mem.Get(ctx, TableBookings, bookingID)
	require.NoError(t, err)
	assert.Equal(t, BookingCompleted, row["status"])
	assert.Equal(t, "35.50", row["total_amount"])

	bookingID, _, _ = env.IDs.Get(MappingBookings, "4")
	row, err = mem.Get(ctx, TableBookings, bookingID)
	require.NoError(t, err)
	assert.Equal(t, BookingPending, row["status"])

	paymentID, _, _ := env.IDs.Get(MappingPayments, "2")
	row, err = mem.Get(ctx, TablePayments, paymentID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, row["status"])
	assert.Equal(t, "gbp", row["currency"])
	assert.Equal(t, "10.00", row["amount"])

	// both legacy chats between ann and cat are one chat
	chatA, _, _ := env.IDs.Get(MappingChats, "1")
	chatB, _, _ := env.IDs.Get(MappingChats, "2")
	assert.Equal(t, chatA, chatB)

	chats := phaseStats(t, report, Chats, pipeline.PhaseExtract)
	assert.Equal(t, 4, chats["messages"])
	assert.Equal(t, 1, chats[pipeline.StatDuplicates])

	reviews := phaseStats(t, report, Reviews, pipeline.PhaseExtract)
	assert.Equal(t, 1, reviews[pipeline.StatExtracted])
	assert.Equal(t, 2, reviews[pipeline.StatSkipped])
}

func TestMigrationIsRerunnable(t *testing.T) {
	ctx := context.Background()
	env, mem := newEnv(t)
	o := pipeline.NewOrchestrator(env, Migrators(), pipeline.Options{})

	_, err := o.Run(ctx, nil, []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate})
	require.NoError(t, err)
	before := map[string]int64{}
	for _, table := range []string{TableUsers, TableBookings, TableBookingServices, TableChatMessages} {
		before[table] = count(t, mem, table)
	}
	mappings, err := env.IDs.Len(MappingBookings)
	require.NoError(t, err)

	report, err := o.Run(ctx, nil, []pipeline.Phase{pipeline.PhaseCreate})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Created)
	assert.Equal(t, 0, report.Summary.Failed)

	for table, n := range before {
		assert.Equal(t, n, count(t, mem, table), table)
	}
	after, err := env.IDs.Len(MappingBookings)
	require.NoError(t, err)
	assert.Equal(t, mappings, after)
}

func bodies(mem *destination.Memory) []string {
	var out []string
	for _, row := range mem.Rows(TableChatMessages) {
		out = append(out, destination.Normalize(row["body"]))
	}
	return out
}

// Messages from one sender in the same second stay apart, and a message without a
// timestamp is not written again when a later extract fills in a different time.
func TestMessagesAreKeyedByLegacyID(t *testing.T) {
	ctx := context.Background()
	env, mem := newEnv(t)

	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.Mapper = legacy.NewMapper(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Hour)
		return now
	})

	o := pipeline.NewOrchestrator(env, Migrators(), pipeline.Options{})
	phases := []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate}

	_, err := o.Run(ctx, nil, phases)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count(t, mem, TableChatMessages))
	assert.ElementsMatch(t, []string{"Hi", "Hello, it's Cat", "Are you free?", "No time"}, bodies(mem))

	report, err := o.Run(ctx, nil, phases)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Failed)
	assert.Equal(t, int64(4), count(t, mem, TableChatMessages))

	report, err = o.Run(ctx, []string{Chats}, []pipeline.Phase{pipeline.PhaseValidate})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitOK, report.Outcome())
	assert.Equal(t, 4, report.Entities[0].Validation.ChildRows)
}

func TestValidationChecksChildTables(t *testing.T) {
	ctx := context.Background()
	env, mem := newEnv(t)
	o := pipeline.NewOrchestrator(env, Migrators(), pipeline.Options{})
	_, err := o.Run(ctx, nil, []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate})
	require.NoError(t, err)

	children := []string{TableChatMessages, TableBookingServices, TableStylistProfiles}
	for _, table := range children {
		rows := mem.Rows(table)
		require.NotEmpty(t, rows, table)
		require.True(t, mem.Delete(table, destination.Normalize(rows[0][destination.IDColumn])), table)
	}

	report, err := o.Run(ctx, []string{Users, Bookings, Chats}, []pipeline.Phase{pipeline.PhaseValidate})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitValidationFailed, report.Outcome())

	var missing []string
	for _, er := range report.Entities {
		require.NotNil(t, er.Validation, er.Entity)
		for _, d := range er.Validation.Missing {
			missing = append(missing, d.Table)
		}
	}
	assert.ElementsMatch(t, children, missing)
}

func TestValidationFindsOrphanedServiceLink(t *testing.T) {
	ctx := context.Background()
	env, mem := newEnv(t)
	o := pipeline.NewOrchestrator(env, Migrators(), pipeline.Options{})
	_, err := o.Run(ctx, nil, []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate})
	require.NoError(t, err)

	links := mem.Rows(TableBookingServices)
	require.NotEmpty(t, links)
	serviceID := destination.Normalize(links[0]["service_id"])
	require.True(t, mem.Delete(TableServices, serviceID))

	report, err := o.Run(ctx, []string{Bookings}, []pipeline.Phase{pipeline.PhaseValidate})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitValidationFailed, report.Outcome())

	v := report.Entities[0].Validation
	require.NotNil(t, v)
	assert.Empty(t, v.Missing)
	require.Len(t, v.Orphaned, 1)
	assert.Equal(t, TableBookingServices, v.Orphaned[0].Table)
	assert.Equal(t, "service_id", v.Orphaned[0].Field)
	assert.Equal(t, serviceID, v.Orphaned[0].Actual)
}

func TestDependentsSkipWhenOwnersMissing(t *testing.T) {
	env, _ := newEnv(t)
	stats, err := pipeline.New(BookingDefinition()).Extract(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 0, stats[pipeline.StatExtracted])
	assert.Equal(t, 4, stats[pipeline.StatSkipped])

	skipped, _, err := checkpoint.Load[pipeline.SkipRecord](env.Checkpoints, "extract_skipped", Bookings)
	require.NoError(t, err)
	assert.Equal(t, "buyer 1 not migrated", skipped[0].Reason)
	assert.Equal(t, "1", skipped[0].LegacyID)
}

func TestValidationFindsDeletedBooking(t *testing.T) {
	ctx := context.Background()
	env, mem := newEnv(t)
	o := pipeline.NewOrchestrator(env, Migrators(), pipeline.Options{})
	_, err := o.Run(ctx, nil, []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate})
	require.NoError(t, err)

	id, _, _ := env.IDs.Get(MappingBookings, "4")
	require.True(t, mem.Delete(TableBookings, id))

	report, err := o.Run(ctx, []string{Bookings}, []pipeline.Phase{pipeline.PhaseValidate})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitValidationFailed, report.Outcome())

	v := report.Entities[0].Validation
	require.NotNil(t, v)
	require.Len(t, v.Missing, 1)
	assert.Equal(t, "4", v.Missing[0].LegacyID)
}

func TestBookingStatusIsTotal(t *testing.T) {
	cases := map[int64]string{
		0: BookingPending, 1: BookingConfirmed, 2: BookingCompleted,
		3: BookingCancelled, 4: BookingCancelled, 5: BookingNoShow,
		6: BookingPending, -1: BookingPending,
	}
	for in, want := range cases {
		in := in
		assert.Equal(t, want, BookingStatus(&in), "status %d", in)
	}
	assert.Equal(t, BookingPending, BookingStatus(nil))
}

func TestPaymentStatusIsTotal(t *testing.T) {
	cases := map[string]string{
		"succeeded":               PaymentSucceeded,
		"processing":              PaymentProcessing,
		"requires_payment_method": PaymentPending,
		"requires_action":         PaymentPending,
		"canceled":                PaymentCancelled,
		"refunded":                PaymentRefunded,
		"failed":                  PaymentFailed,
		" Succeeded ":             PaymentSucceeded,
		"something_new":           PaymentPending,
		"":                        PaymentPending,
	}
	for in, want := range cases {
		in := in
		assert.Equal(t, want, PaymentStatus(&in), "status %q", in)
	}
	assert.Equal(t, PaymentPending, PaymentStatus(nil))
}

func TestCurrency(t *testing.T) {
	usd, blank := "USD", "  "
	assert.Equal(t, "usd", Currency(&usd))
	assert.Equal(t, DefaultCurrency, Currency(&blank))
	assert.Equal(t, DefaultCurrency, Currency(nil))
}

func TestResolveOwner(t *testing.T) {
	buyers := idmap.View{"1": "user-a", "2": "user-b"}
	stylists := idmap.View{"2": "user-b", "7": "user-c"}

	assert.Equal(t, Owner{Kind: OwnerBuyer, ID: "user-a"}, ResolveOwner(buyers, stylists, "1"))
	assert.Equal(t, Owner{Kind: OwnerBuyer, ID: "user-b"}, ResolveOwner(buyers, stylists, "2"))
	assert.Equal(t, Owner{Kind: OwnerStylist, ID: "user-c"}, ResolveOwner(buyers, stylists, "7"))

	o := ResolveOwner(buyers, stylists, "99")
	assert.False(t, o.Resolved())
	assert.Equal(t, Unresolved, o)
}

func TestMigratorsFollowOrder(t *testing.T) {
	ms := Migrators()
	require.Len(t, ms, len(Order))
	for i, m := range ms {
		assert.Equal(t, Order[i], m.Name())
	}
}
