package library

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aurantiaco-sucus/rdb-exp3/library"

// LibraryManager implements the circulation desk: membership, catalog,
// instances and occupations. Every store access goes through the injected
// Serializer.
type LibraryManager struct {
	store  *Serializer
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// ManagerOption configures a LibraryManager.
type ManagerOption func(*LibraryManager)

// WithManagerLogger sets the logger for operation outcomes.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(lm *LibraryManager) { lm.logger = logger }
}

// WithClock overrides the clock used to date occupations.
func WithClock(now func() time.Time) ManagerOption {
	return func(lm *LibraryManager) { lm.now = now }
}

// NewLibraryManager builds a manager on top of store.
func NewLibraryManager(store *Serializer, opts ...ManagerOption) *LibraryManager {
	lm := &LibraryManager{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying store once the in-flight operation finishes.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// SchemaVersion reports the provisioned schema version after checking that
// every ledger table is present.
func (lm *LibraryManager) SchemaVersion(ctx context.Context) (int, error) {
	version, err := WithStoreValue(ctx, lm.store, func(db *Database) (int, error) {
		if err := db.CheckSchema(ctx); err != nil {
			return 0, err
		}
		return db.SchemaVersion(ctx)
	})
	return version, storeError(err)
}

func (lm *LibraryManager) run(ctx context.Context, op string, fn func(ctx context.Context, db *Database) error, attrs ...attribute.KeyValue) error {
	ctx, span := lm.tracer.Start(ctx, "library."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := storeError(lm.store.WithStore(ctx, func(db *Database) error {
		return fn(ctx, db)
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lm.logger.Info("operation failed", "op", op, "kind", string(KindOf(err)), "error", err.Error())
		return err
	}
	lm.logger.Debug("operation succeeded", "op", op)
	return nil
}

// ------------------ Membership ------------------

// Register validates the input and creates a user, returning its uid.
func (lm *LibraryManager) Register(ctx context.Context, username, email, info string) (int64, error) {
	if !IsUsernameLegit(username) {
		return 0, validationError("username is not legit")
	}
	if !IsEmailLegit(email) {
		return 0, validationError("email is not legit")
	}

	var uid int64
	err := lm.run(ctx, "register", func(ctx context.Context, db *Database) error {
		var err error
		uid, err = db.Insert(ctx, db.InsertInto(tableUsers).Rows(goqu.Record{
			colUsername: username,
			colEmail:    email,
			colInfo:     info,
		}), colUID)
		return err
	})
	return uid, err
}

// Lookup resolves a username, or an email when phrase starts with ':'.
func (lm *LibraryManager) Lookup(ctx context.Context, phrase string) (int64, error) {
	column, key := colUsername, phrase
	if strings.HasPrefix(phrase, ":") {
		column, key = colEmail, phrase[1:]
	}

	var uid int64
	err := lm.run(ctx, "lookup", func(ctx context.Context, db *Database) error {
		err := db.Get(ctx, &uid, db.From(tableUsers).
			Select(colUID).
			Where(goqu.C(column).Eq(key)).
			Order(goqu.C(colUID).Asc()).
			Limit(1))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("no user matches %q", phrase)
		}
		return err
	})
	return uid, err
}

// Alter overwrites the username, email and info of uid.
func (lm *LibraryManager) Alter(ctx context.Context, uid int64, username, email, info string) error {
	if !IsUsernameLegit(username) {
		return validationError("username is not legit")
	}
	if !IsEmailLegit(email) {
		return validationError("email is not legit")
	}

	return lm.run(ctx, "alter", func(ctx context.Context, db *Database) error {
		n, err := db.Exec(ctx, db.Update(tableUsers).
			Set(goqu.Record{colUsername: username, colEmail: email, colInfo: info}).
			Where(goqu.C(colUID).Eq(uid)))
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("user %d not found", uid)
		}
		return nil
	}, attribute.Int64("uid", uid))
}

// Unregister deletes uid. Users still holding instances cannot leave.
func (lm *LibraryManager) Unregister(ctx context.Context, uid int64) error {
	return lm.run(ctx, "unregister", func(ctx context.Context, db *Database) error {
		return db.InTx(ctx, func(tx *Database) error {
			held, err := tx.Count(ctx, tableOccupations, goqu.Ex{colUID: uid})
			if err != nil {
				return err
			}
			if held > 0 {
				return conflict("user %d still holds %d instance(s)", uid, held)
			}
			n, err := tx.Exec(ctx, tx.DeleteFrom(tableUsers).Where(goqu.C(colUID).Eq(uid)))
			if err != nil {
				return err
			}
			if n == 0 {
				return notFound("user %d not found", uid)
			}
			return nil
		})
	}, attribute.Int64("uid", uid))
}

// Info returns the user record of uid.
func (lm *LibraryManager) Info(ctx context.Context, uid int64) (*User, error) {
	var u User
	err := lm.run(ctx, "info", func(ctx context.Context, db *Database) error {
		err := db.Get(ctx, &u, db.From(tableUsers).
			Select(colUID, colUsername, colEmail, colInfo).
			Where(goqu.C(colUID).Eq(uid)))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user %d not found", uid)
		}
		return err
	}, attribute.Int64("uid", uid))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// BorrowedList returns the iids uid has borrowed, oldest first.
func (lm *LibraryManager) BorrowedList(ctx context.Context, uid int64) ([]int64, error) {
	return lm.occupationList(ctx, "borrowed_list", uid, Borrowed)
}

// ReservedList returns the iids uid has reserved, oldest first.
func (lm *LibraryManager) ReservedList(ctx context.Context, uid int64) ([]int64, error) {
	return lm.occupationList(ctx, "reserved_list", uid, Reserved)
}

func (lm *LibraryManager) occupationList(ctx context.Context, op string, uid int64, kind Kind) ([]int64, error) {
	iids := []int64{}
	err := lm.run(ctx, op, func(ctx context.Context, db *Database) error {
		return db.Select(ctx, &iids, db.From(tableOccupations).
			Select(colIID).
			Where(goqu.Ex{colUID: uid, colKind: int64(kind)}).
			Order(goqu.C(colSeq).Asc()))
	}, attribute.Int64("uid", uid))
	if err != nil {
		return nil, err
	}
	return iids, nil
}

// ------------------ Circulation ------------------

// Borrow lends iid to uid. The instance must exist and be free.
func (lm *LibraryManager) Borrow(ctx context.Context, uid, iid int64) error {
	return lm.occupy(ctx, "borrow", uid, iid, Borrowed)
}

// Reserve holds iid for uid. The instance must exist and be free.
func (lm *LibraryManager) Reserve(ctx context.Context, uid, iid int64) error {
	return lm.occupy(ctx, "reserve", uid, iid, Reserved)
}

func (lm *LibraryManager) occupy(ctx context.Context, op string, uid, iid int64, kind Kind) error {
	date := lm.now().Format(dateLayout)
	return lm.run(ctx, op, func(ctx context.Context, db *Database) error {
		return db.InTx(ctx, func(tx *Database) error {
			exists, err := tx.Exists(ctx, tableUsers, goqu.Ex{colUID: uid})
			if err != nil {
				return err
			}
			if !exists {
				return notFound("user %d not found", uid)
			}

			if exists, err = tx.Exists(ctx, tableInstances, goqu.Ex{colIID: iid}); err != nil {
				return err
			}
			if !exists {
				return notFound("instance %d not found", iid)
			}

			// Availability: any occupation of this copy, by anyone, blocks.
			var current Occupation
			err = tx.Get(ctx, &current, tx.From(tableOccupations).
				Select(colUID, colIID, colOccupiedOn, colKind).
				Where(goqu.C(colIID).Eq(iid)))
			switch {
			case err == nil:
				return conflict("instance %d is already %s", iid, current.Kind)
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}

			_, err = tx.Exec(ctx, tx.InsertInto(tableOccupations).Rows(goqu.Record{
				colUID:        uid,
				colIID:        iid,
				colOccupiedOn: date,
				colKind:       int64(kind),
			}))
			return err
		})
	}, attribute.Int64("uid", uid), attribute.Int64("iid", iid))
}

// Return releases iid whoever holds it. Lost instances stay lost.
func (lm *LibraryManager) Return(ctx context.Context, iid int64) error {
	return lm.run(ctx, "return", func(ctx context.Context, db *Database) error {
		return db.InTx(ctx, func(tx *Database) error {
			var current Occupation
			err := tx.Get(ctx, &current, tx.From(tableOccupations).
				Select(colUID, colIID, colOccupiedOn, colKind).
				Where(goqu.C(colIID).Eq(iid)))
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("instance %d is not occupied", iid)
			}
			if err != nil {
				return err
			}
			if current.Kind == Lost {
				return conflict("instance %d is lost", iid)
			}

			_, err = tx.Exec(ctx, tx.DeleteFrom(tableOccupations).Where(
				goqu.C(colIID).Eq(iid),
				goqu.C(colKind).In(int64(Borrowed), int64(Reserved)),
			))
			return err
		})
	}, attribute.Int64("iid", iid))
}

// ------------------ Catalog ------------------

// AddBook creates a catalog record and returns its bid.
func (lm *LibraryManager) AddBook(ctx context.Context, title, author, info string) (int64, error) {
	var bid int64
	err := lm.run(ctx, "add_book", func(ctx context.Context, db *Database) error {
		var err error
		bid, err = db.Insert(ctx, db.InsertInto(tableBooks).Rows(goqu.Record{
			colTitle:  title,
			colAuthor: author,
			colInfo:   info,
		}), colBID)
		return err
	})
	return bid, err
}

// RemoveBook deletes bid. Books with instances cannot be removed.
func (lm *LibraryManager) RemoveBook(ctx context.Context, bid int64) error {
	return lm.run(ctx, "remove_book", func(ctx context.Context, db *Database) error {
		return db.InTx(ctx, func(tx *Database) error {
			copies, err := tx.Count(ctx, tableInstances, goqu.Ex{colBID: bid})
			if err != nil {
				return err
			}
			if copies > 0 {
				return conflict("book %d still has %d instance(s)", bid, copies)
			}
			n, err := tx.Exec(ctx, tx.DeleteFrom(tableBooks).Where(goqu.C(colBID).Eq(bid)))
			if err != nil {
				return err
			}
			if n == 0 {
				return notFound("book %d not found", bid)
			}
			return nil
		})
	}, attribute.Int64("bid", bid))
}

// AlterBook overwrites the title, author and info of bid.
func (lm *LibraryManager) AlterBook(ctx context.Context, bid int64, title, author, info string) error {
	return lm.run(ctx, "alter_book", func(ctx context.Context, db *Database) error {
		n, err := db.Exec(ctx, db.Update(tableBooks).
			Set(goqu.Record{colTitle: title, colAuthor: author, colInfo: info}).
			Where(goqu.C(colBID).Eq(bid)))
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("book %d not found", bid)
		}
		return nil
	}, attribute.Int64("bid", bid))
}

// AddInstance registers a physical copy of bid and returns its iid.
func (lm *LibraryManager) AddInstance(ctx context.Context, bid, status int64) (int64, error) {
	var iid int64
	err := lm.run(ctx, "add_instance", func(ctx context.Context, db *Database) error {
		return db.InTx(ctx, func(tx *Database) error {
			exists, err := tx.Exists(ctx, tableBooks, goqu.Ex{colBID: bid})
			if err != nil {
				return err
			}
			if !exists {
				return notFound("book %d not found", bid)
			}
			iid, err = tx.Insert(ctx, tx.InsertInto(tableInstances).Rows(goqu.Record{
				colBID:    bid,
				colStatus: status,
			}), colIID)
			return err
		})
	}, attribute.Int64("bid", bid))
	return iid, err
}

// RemoveInstance deletes iid. Occupied instances cannot be removed.
func (lm *LibraryManager) RemoveInstance(ctx context.Context, iid int64) error {
	return lm.run(ctx, "remove_instance", func(ctx context.Context, db *Database) error {
		return db.InTx(ctx, func(tx *Database) error {
			occupied, err := tx.Exists(ctx, tableOccupations, goqu.Ex{colIID: iid})
			if err != nil {
				return err
			}
			if occupied {
				return conflict("instance %d is occupied", iid)
			}
			n, err := tx.Exec(ctx, tx.DeleteFrom(tableInstances).Where(goqu.C(colIID).Eq(iid)))
			if err != nil {
				return err
			}
			if n == 0 {
				return notFound("instance %d not found", iid)
			}
			return nil
		})
	}, attribute.Int64("iid", iid))
}

// Search returns the bids whose title, author or info contains phrase.
// Matching is a case-sensitive substring test with phrase bound as a
// parameter, so LIKE wildcards in phrase match literally.
func (lm *LibraryManager) Search(ctx context.Context, phrase string) ([]int64, error) {
	bids := []int64{}
	if strings.TrimSpace(phrase) == "" {
		return bids, nil
	}

	err := lm.run(ctx, "search", func(ctx context.Context, db *Database) error {
		contains := func(col string) exp.Expression {
			return goqu.Func(db.substringFunc(), goqu.C(col), phrase).Gt(0)
		}
		return db.Select(ctx, &bids, db.From(tableBooks).
			Select(colBID).
			Where(goqu.Or(contains(colTitle), contains(colAuthor), contains(colInfo))).
			Order(goqu.C(colBID).Asc()))
	})
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// BookInfo returns the catalog record of bid.
func (lm *LibraryManager) BookInfo(ctx context.Context, bid int64) (*Book, error) {
	var b Book
	err := lm.run(ctx, "book_info", func(ctx context.Context, db *Database) error {
		err := db.Get(ctx, &b, db.From(tableBooks).
			Select(colBID, colTitle, colAuthor, colInfo).
			Where(goqu.C(colBID).Eq(bid)))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("book %d not found", bid)
		}
		return err
	}, attribute.Int64("bid", bid))
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InstanceList returns the iids of every copy of bid.
func (lm *LibraryManager) InstanceList(ctx context.Context, bid int64) ([]int64, error) {
	iids := []int64{}
	err := lm.run(ctx, "instance_list", func(ctx context.Context, db *Database) error {
		exists, err := db.Exists(ctx, tableBooks, goqu.Ex{colBID: bid})
		if err != nil {
			return err
		}
		if !exists {
			return notFound("book %d not found", bid)
		}
		return db.Select(ctx, &iids, db.From(tableInstances).
			Select(colIID).
			Where(goqu.C(colBID).Eq(bid)).
			Order(goqu.C(colIID).Asc()))
	}, attribute.Int64("bid", bid))
	if err != nil {
		return nil, err
	}
	return iids, nil
}

// InstanceInfo returns the instance record of iid.
func (lm *LibraryManager) InstanceInfo(ctx context.Context, iid int64) (*Instance, error) {
	var in Instance
	err := lm.run(ctx, "instance_info", func(ctx context.Context, db *Database) error {
		err := db.Get(ctx, &in, db.From(tableInstances).
			Select(colIID, colBID, colStatus).
			Where(goqu.C(colIID).Eq(iid)))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("instance %d not found", iid)
		}
		return err
	}, attribute.Int64("iid", iid))
	if err != nil {
		return nil, err
	}
	return &in, nil
}
