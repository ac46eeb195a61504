package library

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedDay = time.Date(2024, time.March, 9, 15, 4, 5, 0, time.UTC)

func newManager(t *testing.T) (*LibraryManager, *Database) {
	t.Helper()
	db := tempDB(t)
	store, err := NewSerializer(db)
	require.NoError(t, err)
	mgr := NewLibraryManager(store, WithClock(func() time.Time { return fixedDay }))
	return mgr, db
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), err.Error())
}

func registerAlice(t *testing.T, mgr *LibraryManager) int64 {
	t.Helper()
	uid, err := mgr.Register(context.Background(), "alice_01", "a@b.com", "student")
	require.NoError(t, err)
	return uid
}

func addBookWithCopy(t *testing.T, mgr *LibraryManager) (bid, iid int64) {
	t.Helper()
	ctx := context.Background()
	bid, err := mgr.AddBook(ctx, "Dune", "Herbert", "sci-fi")
	require.NoError(t, err)
	iid, err = mgr.AddInstance(ctx, bid, 0)
	require.NoError(t, err)
	return bid, iid
}

// ------------------ Membership ------------------

func Test_Register_InvalidUsernameDoesNotTouchStore(t *testing.T) {
	ctx := context.Background()
	mgr, db := newManager(t)

	for _, name := range []string{"", "abc", "has space", "tab\there", strings.Repeat("z", 513)} {
		_, err := mgr.Register(ctx, name, "a@b.com", "")
		requireKind(t, err, KindValidation)
		assert.Equal(t, "username is not legit", err.Error())
	}

	n, err := db.Count(ctx, tableUsers, goqu.Ex{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_Register_InvalidEmail(t *testing.T) {
	mgr, _ := newManager(t)

	_, err := mgr.Register(context.Background(), "alice_01", "not-an-email", "")

	requireKind(t, err, KindValidation)
	assert.Equal(t, "email is not legit", err.Error())
}

func Test_Register_DuplicateUsernameIsStoreError(t *testing.T) {
	mgr, _ := newManager(t)
	registerAlice(t, mgr)

	_, err := mgr.Register(context.Background(), "alice_01", "other@b.com", "")

	requireKind(t, err, KindStore)
	assert.Contains(t, strings.ToUpper(err.Error()), "UNIQUE")
}

func Test_Register_ThenLookup(t *testing.T) {
	// setup
	ctx := context.Background()
	mgr, _ := newManager(t)

	// act
	uid := registerAlice(t, mgr)
	byName, err := mgr.Lookup(ctx, "alice_01")
	require.NoError(t, err)
	byEmail, err := mgr.Lookup(ctx, ":a@b.com")
	require.NoError(t, err)

	// assert
	assert.Equal(t, int64(1), uid)
	assert.Equal(t, uid, byName)
	assert.Equal(t, uid, byEmail)
}

func Test_Lookup_NotFound(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	registerAlice(t, mgr)

	_, err := mgr.Lookup(ctx, "bob_0001")
	requireKind(t, err, KindNotFound)

	// A username is never matched against emails.
	_, err = mgr.Lookup(ctx, "a@b.com")
	requireKind(t, err, KindNotFound)
}

func Test_Alter_ThenInfo(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)

	require.NoError(t, mgr.Alter(ctx, uid, "alice_02", "alice@c.org", "graduate"))

	u, err := mgr.Info(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, &User{UID: uid, Username: "alice_02", Email: "alice@c.org", Info: "graduate"}, u)
}

func Test_Alter_Failures(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)

	requireKind(t, mgr.Alter(ctx, uid, "no", "a@b.com", ""), KindValidation)
	requireKind(t, mgr.Alter(ctx, uid, "alice_01", "nope", ""), KindValidation)
	requireKind(t, mgr.Alter(ctx, 99, "alice_09", "z@b.com", ""), KindNotFound)

	u, err := mgr.Info(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice_01", u.Username)
}

func Test_Unregister_ThenInfo(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)

	require.NoError(t, mgr.Unregister(ctx, uid))

	_, err := mgr.Info(ctx, uid)
	requireKind(t, err, KindNotFound)
	requireKind(t, mgr.Unregister(ctx, uid), KindNotFound)
}

func Test_Unregister_WhileHoldingInstance(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)
	_, iid := addBookWithCopy(t, mgr)
	require.NoError(t, mgr.Borrow(ctx, uid, iid))

	requireKind(t, mgr.Unregister(ctx, uid), KindConflict)

	require.NoError(t, mgr.Return(ctx, iid))
	assert.NoError(t, mgr.Unregister(ctx, uid))
}

// ------------------ Circulation ------------------

func Test_BorrowReturnScenario(t *testing.T) {
	// setup
	ctx := context.Background()
	mgr, db := newManager(t)
	uid := registerAlice(t, mgr)
	bid, iid := addBookWithCopy(t, mgr)
	require.Equal(t, int64(1), bid)
	require.Equal(t, int64(1), iid)

	// act
	require.NoError(t, mgr.Borrow(ctx, uid, iid))
	borrowed, err := mgr.BorrowedList(ctx, uid)
	require.NoError(t, err)

	// assert
	assert.Equal(t, []int64{1}, borrowed)

	var occ Occupation
	require.NoError(t, db.Get(ctx, &occ, db.From(tableOccupations).
		Select(colUID, colIID, colOccupiedOn, colKind).
		Where(goqu.C(colIID).Eq(iid))))
	assert.Equal(t, Occupation{UID: uid, IID: iid, Date: "2024-03-09", Kind: Borrowed}, occ)

	require.NoError(t, mgr.Return(ctx, iid))
	borrowed, err = mgr.BorrowedList(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, borrowed)
	assert.NotNil(t, borrowed)
}

func Test_Borrow_ConflictOnOccupiedInstance(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	alice := registerAlice(t, mgr)
	bob, err := mgr.Register(ctx, "bob_0002", "b@b.com", "")
	require.NoError(t, err)
	_, iid := addBookWithCopy(t, mgr)

	require.NoError(t, mgr.Borrow(ctx, alice, iid))

	err = mgr.Borrow(ctx, bob, iid)
	requireKind(t, err, KindConflict)
	assert.Equal(t, "instance 1 is already borrowed", err.Error())

	requireKind(t, mgr.Reserve(ctx, bob, iid), KindConflict)
	requireKind(t, mgr.Borrow(ctx, alice, iid), KindConflict)

	held, err := mgr.BorrowedList(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func Test_Borrow_MissingUserOrInstance(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)
	_, iid := addBookWithCopy(t, mgr)

	requireKind(t, mgr.Borrow(ctx, 42, iid), KindNotFound)
	requireKind(t, mgr.Borrow(ctx, uid, 42), KindNotFound)
	requireKind(t, mgr.Reserve(ctx, uid, 42), KindNotFound)
}

func Test_ConcurrentBorrowsOfOneInstance(t *testing.T) {
	// setup
	ctx := context.Background()
	mgr, db := newManager(t)
	_, iid := addBookWithCopy(t, mgr)

	const borrowers = 12
	uids := make([]int64, borrowers)
	for i := range uids {
		uid, err := mgr.Register(ctx, "user_"+strings.Repeat("x", i+1), "u@b.com"+strings.Repeat("m", i), "")
		require.NoError(t, err)
		uids[i] = uid
	}

	// act
	errs := make([]error, borrowers)
	var wg sync.WaitGroup
	for i, uid := range uids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = mgr.Borrow(ctx, uid, iid)
		}()
	}
	wg.Wait()

	// assert
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, KindConflict, KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	n, err := db.Count(ctx, tableOccupations, goqu.Ex{colIID: iid})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func Test_Reserve_ThenReturn(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)
	_, iid := addBookWithCopy(t, mgr)

	require.NoError(t, mgr.Reserve(ctx, uid, iid))

	reserved, err := mgr.ReservedList(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []int64{iid}, reserved)
	borrowed, err := mgr.BorrowedList(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, borrowed)

	require.NoError(t, mgr.Return(ctx, iid))
	reserved, err = mgr.ReservedList(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, reserved)
}

func Test_Return_IsUIDAgnostic(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)
	_, iid := addBookWithCopy(t, mgr)
	require.NoError(t, mgr.Borrow(ctx, uid, iid))

	require.NoError(t, mgr.Return(ctx, iid))

	requireKind(t, mgr.Return(ctx, iid), KindNotFound)
}

func Test_Return_LostInstanceStaysLost(t *testing.T) {
	ctx := context.Background()
	mgr, db := newManager(t)
	uid := registerAlice(t, mgr)
	_, iid := addBookWithCopy(t, mgr)
	_, err := db.Exec(ctx, db.InsertInto(tableOccupations).Rows(goqu.Record{
		colUID: uid, colIID: iid, colOccupiedOn: "2023-12-31", colKind: int64(Lost),
	}))
	require.NoError(t, err)

	err = mgr.Return(ctx, iid)
	requireKind(t, err, KindConflict)
	assert.Equal(t, "instance 1 is lost", err.Error())

	requireKind(t, mgr.Borrow(ctx, uid, iid), KindConflict)
	exists, err := db.Exists(ctx, tableOccupations, goqu.Ex{colIID: iid})
	require.NoError(t, err)
	assert.True(t, exists)
}

func Test_OccupationListsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)
	bid, first := addBookWithCopy(t, mgr)
	second, err := mgr.AddInstance(ctx, bid, 0)
	require.NoError(t, err)
	third, err := mgr.AddInstance(ctx, bid, 0)
	require.NoError(t, err)

	require.NoError(t, mgr.Borrow(ctx, uid, third))
	require.NoError(t, mgr.Borrow(ctx, uid, first))
	require.NoError(t, mgr.Reserve(ctx, uid, second))

	borrowed, err := mgr.BorrowedList(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []int64{third, first}, borrowed)
	reserved, err := mgr.ReservedList(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []int64{second}, reserved)
}

// ------------------ Catalog ------------------

func Test_AddInstance_ThenInstanceInfo(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	bid, err := mgr.AddBook(ctx, "Emma", "Austen", "")
	require.NoError(t, err)

	iid, err := mgr.AddInstance(ctx, bid, 7)
	require.NoError(t, err)

	in, err := mgr.InstanceInfo(ctx, iid)
	require.NoError(t, err)
	assert.Equal(t, &Instance{IID: iid, BID: bid, Status: 7}, in)
}

func Test_AddInstance_UnknownBook(t *testing.T) {
	mgr, _ := newManager(t)

	_, err := mgr.AddInstance(context.Background(), 5, 0)

	requireKind(t, err, KindNotFound)
}

func Test_AlterBook_ThenBookInfo(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	bid, _ := addBookWithCopy(t, mgr)

	require.NoError(t, mgr.AlterBook(ctx, bid, "Dune Messiah", "Frank Herbert", "sequel"))

	b, err := mgr.BookInfo(ctx, bid)
	require.NoError(t, err)
	assert.Equal(t, &Book{BID: bid, Title: "Dune Messiah", Author: "Frank Herbert", Info: "sequel"}, b)
	requireKind(t, mgr.AlterBook(ctx, 99, "x", "y", "z"), KindNotFound)
}

func Test_RemoveBook_RequiresNoInstances(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	bid, iid := addBookWithCopy(t, mgr)

	requireKind(t, mgr.RemoveBook(ctx, bid), KindConflict)

	require.NoError(t, mgr.RemoveInstance(ctx, iid))
	require.NoError(t, mgr.RemoveBook(ctx, bid))

	_, err := mgr.BookInfo(ctx, bid)
	requireKind(t, err, KindNotFound)
	requireKind(t, mgr.RemoveBook(ctx, bid), KindNotFound)
}

func Test_RemoveInstance_Failures(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	uid := registerAlice(t, mgr)
	_, iid := addBookWithCopy(t, mgr)
	require.NoError(t, mgr.Reserve(ctx, uid, iid))

	requireKind(t, mgr.RemoveInstance(ctx, iid), KindConflict)
	requireKind(t, mgr.RemoveInstance(ctx, 77), KindNotFound)

	_, err := mgr.InstanceInfo(ctx, 77)
	requireKind(t, err, KindNotFound)
}

func Test_InstanceList(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	bid, first := addBookWithCopy(t, mgr)
	second, err := mgr.AddInstance(ctx, bid, 1)
	require.NoError(t, err)
	empty, err := mgr.AddBook(ctx, "Blank", "Nobody", "")
	require.NoError(t, err)

	iids, err := mgr.InstanceList(ctx, bid)
	require.NoError(t, err)
	assert.Equal(t, []int64{first, second}, iids)

	iids, err = mgr.InstanceList(ctx, empty)
	require.NoError(t, err)
	assert.Empty(t, iids)

	_, err = mgr.InstanceList(ctx, 99)
	requireKind(t, err, KindNotFound)
}

func Test_Search(t *testing.T) {
	// setup
	ctx := context.Background()
	mgr, _ := newManager(t)
	dune, err := mgr.AddBook(ctx, "Dune", "Frank Herbert", "desert planet")
	require.NoError(t, err)
	emma, err := mgr.AddBook(ctx, "Emma", "Jane Austen", "100% romance_novel")
	require.NoError(t, err)
	_, err = mgr.AddBook(ctx, "Persuasion", "Jane Austen", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		phrase string
		want   []int64
	}{
		{"title", "Dune", []int64{dune}},
		{"author matches several", "Austen", []int64{emma, dune + 2}},
		{"info", "planet", []int64{dune}},
		{"case sensitive", "dune", []int64{}},
		{"percent is literal", "%", []int64{emma}},
		{"underscore is literal", "e_n", []int64{emma}},
		{"quote is literal", "' OR 1=1 --", []int64{}},
		{"blank phrase", "   ", []int64{}},
		{"empty phrase", "", []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// act
			got, err := mgr.Search(ctx, tt.phrase)

			// assert
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_Close_ClosesStore(t *testing.T) {
	mgr, _ := newManager(t)

	require.NoError(t, mgr.Close())

	_, err := mgr.AddBook(context.Background(), "After", "Close", "")
	requireKind(t, err, KindStore)
}

func Test_SchemaVersion(t *testing.T) {
	mgr, db := newManager(t)

	version, err := mgr.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)

	require.NoError(t, db.DropSchema(context.Background()))
	_, err = mgr.SchemaVersion(context.Background())
	requireKind(t, err, KindStore)
	assert.ErrorIs(t, err, ErrSchemaMissing)
}
