package ixdb

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type (
	ID uint64

	User struct {
		ID    ID     `msgpack:"-"`
		Email string `msgpack:"e"`
		Name  string `msgpack:"n"`
	}

	Post struct {
		ID     ID       `msgpack:"-"`
		Author ID       `msgpack:"a"`
		Title  string   `msgpack:"t"`
		Tags   []string `msgpack:"tg"`
	}

	Doc struct {
		ID      string  `msgpack:"-"`
		Title   string  `msgpack:"t"`
		Content []byte  `msgpack:"-"`
		Meta    DocMeta `msgpack:"-"`
	}
	DocMeta struct {
		Pages   int      `msgpack:"p"`
		Authors []string `msgpack:"a"`
	}

	UserLink = RelationalLink[User, ID]

	Session struct {
		ID      uuid.UUID `msgpack:"-"`
		User    UserLink  `msgpack:"u"`
		Started time.Time `msgpack:"s"`
	}

	AB struct {
		A int
		B int
	}
	CD struct {
		C int
		D int
	}
	Widget struct {
		Key  AB     `msgpack:"-"`
		Name string `msgpack:"n"`
	}
)

var (
	basicSchema = NewSchema()

	usersByEmail = AddIndex[string]("email")
	usersByName  = AddIndex[string]("name")
	usersTable   = DefineTable[User, ID](basicSchema, "users", func(b *TableBuilder[User, ID]) {
		b.AddIndex(usersByEmail)
		b.AddIndex(usersByName)
		b.Indexer(func(row *User, ib *IndexBuilder) {
			ib.Add(usersByEmail, row.Email)
			if row.Name != "" {
				ib.Add(usersByName, row.Name)
			}
		})
	})

	postsByAuthor = AddRelation[ID]("author", usersTable)
	postsByTag    = AddSubscription("tag")
	postsTable    = DefineTable[Post, ID](basicSchema, "posts", func(b *TableBuilder[Post, ID]) {
		b.AddIndex(postsByAuthor)
		b.AddIndex(postsByTag)
		b.Indexer(func(row *Post, ib *IndexBuilder) {
			if row.Author != 0 {
				ib.Add(postsByAuthor, row.Author)
			}
			for _, tag := range row.Tags {
				ib.Add(postsByTag, tag)
			}
		})
	})

	docContent *Blob
	docMeta    *Blob
	docsTable  = DefineTable[Doc, string](basicSchema, "docs", func(b *TableBuilder[Doc, string]) {
		docContent = b.AddBlob("content", 60000, func(row *Doc) *[]byte { return &row.Content })
		docMeta = BlobField(b, "meta", 1024, func(row *Doc) *DocMeta { return &row.Meta })
		b.SuppressContentWhenLogging()
	})

	sessionsByUser = AddRelation[ID]("user", usersTable)
	sessionsTable  = DefineTable[Session, uuid.UUID](basicSchema, "sessions", func(b *TableBuilder[Session, uuid.UUID]) {
		b.AddIndex(sessionsByUser)
		b.Indexer(func(row *Session, ib *IndexBuilder) {
			ib.Add(sessionsByUser, row.User.Key())
		})
	})

	widgetsByCD  = AddIndex[CD]("cd")
	widgetsTable = DefineTable[Widget, AB](basicSchema, "widgets", func(b *TableBuilder[Widget, AB]) {
		b.AddIndex(widgetsByCD)
		b.Indexer(func(row *Widget, ib *IndexBuilder) {
			ib.Add(widgetsByCD, CD{len(row.Name), row.Key.B})
		})
	})
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestDB(t *testing.T) {
	u1 := &User{ID: 1, Name: "foo", Email: "foo@example.com"}
	u2 := &User{ID: 2, Name: "bar", Email: "bar@example.com"}

	db := setup(t, basicSchema)
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, u1))
		ok(t, Put(tx, u2))
	})

	db.Read(func(tx *Tx) {
		deepEqual(t, must(Get[User](tx, ID(1))), u1)
		deepEqual(t, must(Lookup[User](tx, usersByEmail, "foo@example.com")), u1)
		deepEqual(t, must(Lookup[User](tx, usersByName, "foo")), u1)

		isnil(t, must(Lookup[User](tx, usersByName, "fo")))
		isnil(t, must(Lookup[User](tx, usersByName, "f")))
		isnil(t, must(Lookup[User](tx, usersByName, "")))
		isnil(t, must(Lookup[User](tx, usersByName, "fox")))
		isnil(t, must(Get[User](tx, ID(3))))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, allRows[User](t, tx), []*User{u1, u2})
		deepEqual(t, must(tx.Count(usersTable)), 2)
	})
	db.Write(func(tx *Tx) {
		deepEqual(t, must(DeleteRow(tx, u1)), true)
		isnil(t, must(Lookup[User](tx, usersByEmail, "foo@example.com")))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, allRows[User](t, tx), []*User{u2})
	})
}

func TestScenarioA(t *testing.T) {
	db := setup(t, basicSchema)
	alice := &User{ID: 1, Name: "Alice", Email: "a@x.com"}

	db.Write(func(tx *Tx) {
		ok(t, Put(tx, alice))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, must(Get[User](tx, ID(1))), alice)
		deepEqual(t, must(LookupKeys[ID](tx, usersByEmail, "a@x.com")), []ID{1})
		deepEqual(t, must(GetBySecondary[User](tx, usersByEmail, "a@x.com")), []*User{alice})
	})

	db.Write(func(tx *Tx) {
		ok(t, Put(tx, &User{ID: 1, Name: "Alicia", Email: "a@x.com"}))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, must(LookupKeys[ID](tx, usersByEmail, "a@x.com")), []ID{1})
		deepEqual(t, must(Get[User](tx, ID(1))).Name, "Alicia")
		isempty(t, must(LookupKeys[ID](tx, usersByName, "Alice")))
		deepEqual(t, must(LookupKeys[ID](tx, usersByName, "Alicia")), []ID{1})
	})

	db.Write(func(tx *Tx) {
		deepEqual(t, must(Delete[User](tx, ID(1))), true)
	})
	db.Read(func(tx *Tx) {
		isnil(t, must(Get[User](tx, ID(1))))
		isempty(t, must(LookupKeys[ID](tx, usersByEmail, "a@x.com")))
		isempty(t, must(GetBySecondary[User](tx, usersByEmail, "a@x.com")))
	})
	checkIntegrity(t, db)
}

func TestLookup_manyRowsPerValue(t *testing.T) {
	db := setup(t, basicSchema)
	u1 := &User{ID: 1, Name: "bar", Email: "1@example.com"}
	u2 := &User{ID: 2, Name: "bubble", Email: "2@example.com"}
	u3 := &User{ID: 3, Name: "bar", Email: "3@example.com"}
	u4 := &User{ID: 4, Name: "bar", Email: "4@example.com"}
	db.Write(func(tx *Tx) {
		for _, u := range []*User{u4, u2, u3, u1} {
			ok(t, Put(tx, u))
		}
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, must(GetBySecondary[User](tx, usersByName, "bar")), []*User{u1, u3, u4})
		deepEqual(t, must(GetBy[User](tx, usersByName, "bar", LookupOptions{Reverse: true})), []*User{u4, u3, u1})
		deepEqual(t, must(GetBy[User](tx, usersByName, "bar", LookupOptions{Limit: 2})), []*User{u1, u3})
		deepEqual(t, must(GetBy[User](tx, usersByName, "bar", LookupOptions{Reverse: true, Limit: 1})), []*User{u4})
		deepEqual(t, must(GetBy[User](tx, usersByName, "bubble", LookupOptions{Reverse: true})), []*User{u2})
		isempty(t, must(GetBySecondary[User](tx, usersByName, "ba")))
		isempty(t, must(GetBySecondary[User](tx, usersByName, "bubbles")))
		isempty(t, must(GetBy[User](tx, usersByName, "b", LookupOptions{Reverse: true})))
	})
}

func TestRelationalAndSubscriptionLookups(t *testing.T) {
	db := setup(t, basicSchema)
	p1 := &Post{ID: 10, Author: 1, Title: "one", Tags: []string{"go", "db"}}
	p2 := &Post{ID: 11, Author: 2, Title: "two", Tags: []string{"go"}}
	p3 := &Post{ID: 12, Author: 1, Title: "three", Tags: []string{"db", "db"}}
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, p1))
		ok(t, Put(tx, p2))
		ok(t, Put(tx, p3))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, must(GetByRelational[Post](tx, postsByAuthor, ID(1))), []*Post{p1, p3})
		deepEqual(t, must(GetByRelational[Post](tx, postsByAuthor, ID(2))), []*Post{p2})
		isempty(t, must(GetByRelational[Post](tx, postsByAuthor, ID(3))))
		deepEqual(t, must(GetBySubscription[Post](tx, postsByTag, "go")), []*Post{p1, p2})
		deepEqual(t, must(GetBySubscription[Post](tx, postsByTag, "db")), []*Post{p1, p3})
		deepEqual(t, must(LookupKeys[ID](tx, postsByTag, "db")), []ID{10, 12})
		deepEqual(t, must(tx.TableStats(postsTable)).IndexRows, 3+4)
	})

	db.Write(func(tx *Tx) {
		p1.Tags = []string{"db"}
		ok(t, Put(tx, p1))
		deepEqual(t, must(GetBySubscription[Post](tx, postsByTag, "go")), []*Post{p2})
	})
	checkIntegrity(t, db)
}

func TestGetByKind_wrongKindPanics(t *testing.T) {
	db := setup(t, basicSchema)
	db.Read(func(tx *Tx) {
		defer func() {
			if recover() == nil {
				t.Errorf("** GetBySecondary on a relational index did not panic")
			}
		}()
		GetBySecondary[Post](tx, postsByAuthor, ID(1))
	})
}

func TestCompositeKeys(t *testing.T) {
	db := setup(t, basicSchema)
	w1 := &Widget{Key: AB{1, 2}, Name: "foo"}
	w2 := &Widget{Key: AB{-5, 2}, Name: "bar"}
	w3 := &Widget{Key: AB{1, 3}, Name: "ab"}
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, w1))
		ok(t, Put(tx, w2))
		ok(t, Put(tx, w3))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, must(Get[Widget](tx, AB{1, 2})), w1)
		deepEqual(t, allRows[Widget](t, tx), []*Widget{w2, w1, w3})
		deepEqual(t, must(GetBySecondary[Widget](tx, widgetsByCD, CD{3, 2})), []*Widget{w2, w1})
		deepEqual(t, must(LookupKeys[AB](tx, widgetsByCD, CD{2, 3})), []AB{{1, 3}})
		isempty(t, must(GetBySecondary[Widget](tx, widgetsByCD, CD{3, 3})))
	})
}

func TestUUIDKeysAndLinks(t *testing.T) {
	db := setup(t, basicSchema)
	sid := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, &User{ID: 7, Email: "u7@example.com"}))
		ok(t, Put(tx, &Session{ID: sid, User: LinkTo[User](ID(7)), Started: started}))
	})
	db.Read(func(tx *Tx) {
		s := must(Get[Session](tx, sid))
		isnonnil(t, s)
		deepEqual(t, s.ID, sid)
		deepEqual(t, s.User.Key(), ID(7))
		deepEqual(t, s.User.State(), LinkDehydrated)
		if !s.Started.Equal(started) {
			t.Errorf("** Started = %v, wanted %v", s.Started, started)
		}
		deepEqual(t, must(LookupKeys[uuid.UUID](tx, sessionsByUser, ID(7))), []uuid.UUID{sid})
	})
}

func TestPut_zeroKey(t *testing.T) {
	db := setup(t, basicSchema)
	tx := must(db.BeginWrite())
	defer tx.Close()
	err := Put(tx, &User{Email: "zero@example.com"})
	if !errors.Is(err, ErrZeroKey) {
		t.Fatalf("** Put(zero key) = %v, wanted ErrZeroKey", err)
	}
	isempty(t, tx.PendingOps())
}

func TestPut_readOnlyTx(t *testing.T) {
	db := setup(t, basicSchema)
	db.Read(func(tx *Tx) {
		err := Put(tx, &User{ID: 1})
		if !errors.Is(err, ErrReadOnly) {
			t.Errorf("** Put in read tx = %v, wanted ErrReadOnly", err)
		}
		_, err = Delete[User](tx, ID(1))
		if !errors.Is(err, ErrReadOnly) {
			t.Errorf("** Delete in read tx = %v, wanted ErrReadOnly", err)
		}
	})
}

func TestMetaAndModCount(t *testing.T) {
	db := setup(t, basicSchema)
	u := &User{ID: 1, Email: "a@example.com"}
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, u))
	})
	meta := func() ValueMeta {
		var m ValueMeta
		db.Read(func(tx *Tx) {
			var found bool
			m, found = must3(tx.GetMeta(usersTable, ID(1)))
			if !found {
				t.Fatalf("** GetMeta: row not found")
			}
		})
		return m
	}
	deepEqual(t, meta(), ValueMeta{SchemaVer: 1, ModCount: 1})

	db.Write(func(tx *Tx) {
		ok(t, Put(tx, u))
	})
	deepEqual(t, meta(), ValueMeta{SchemaVer: 1, ModCount: 1})

	db.Write(func(tx *Tx) {
		u.Name = "changed"
		ok(t, Put(tx, u))
	})
	deepEqual(t, meta(), ValueMeta{SchemaVer: 1, ModCount: 2})

	db.Read(func(tx *Tx) {
		deepEqual(t, must(Reload(tx, &User{ID: 1})), u)
		deepEqual(t, must(Exists[User](tx, ID(1))), true)
		deepEqual(t, must(Exists[User](tx, ID(2))), false)
	})
}

func TestDeleteAll(t *testing.T) {
	db := setup(t, basicSchema)
	db.Write(func(tx *Tx) {
		for i := 1; i <= 5; i++ {
			ok(t, Put(tx, &User{ID: ID(i), Email: strings.Repeat("x", i)}))
		}
		deepEqual(t, must(tx.Count(usersTable)), 5)
	})
	db.Write(func(tx *Tx) {
		deepEqual(t, must(tx.DeleteAll(usersTable)), 5)
	})
	db.Read(func(tx *Tx) {
		s := must(tx.TableStats(usersTable))
		deepEqual(t, s.Rows, 0)
		deepEqual(t, s.IndexRows, 0)
	})
}

func TestAll_deleteDuringWriteScan(t *testing.T) {
	db := setup(t, basicSchema)
	db.Write(func(tx *Tx) {
		for i := 1; i <= 4; i++ {
			ok(t, Put(tx, &User{ID: ID(i), Email: "e"}))
		}
	})
	db.Write(func(tx *Tx) {
		var seen []ID
		for u, err := range All[User](tx) {
			ok(t, err)
			seen = append(seen, u.ID)
			if u.ID == 1 {
				must(Delete[User](tx, ID(2)))
			}
		}
		deepEqual(t, seen, []ID{1, 3, 4})
	})
}

func TestMemStorage(t *testing.T) {
	db := must(OpenStorage(NewMemStorage(), basicSchema, Options{IsTesting: true}))
	defer db.Close()
	u := &User{ID: 1, Name: "mem", Email: "mem@example.com"}
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, u))
	})
	db.Read(func(tx *Tx) {
		deepEqual(t, must(Lookup[User](tx, usersByName, "mem")), u)
	})
	probs := must(CheckStorage(db.Storage()))
	isempty(t, probs)
}

func TestDump(t *testing.T) {
	db := setup(t, basicSchema)
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, &User{ID: 1, Name: "foo", Email: "foo@example.com"}))
		ok(t, Put(tx, &Doc{ID: "d", Title: "secret", Content: []byte("abc")}))
	})
	db.Read(func(tx *Tx) {
		out := must(tx.Dump(DumpAll))
		for _, s := range []string{
			"users (1 rows)",
			`users.1 = (m1 s1) {"ID":1,"Email":"foo@example.com","Name":"foo"}`,
			"users.i.email.1: foo@example.com => 1",
			"docs.1 = (m1 s1) <suppressed>",
			"docs.b.content",
		} {
			if !strings.Contains(out, s) {
				t.Errorf("** Dump output lacks %q:\n%s", s, out)
			}
		}
	})
}

func TestDescribeOpenTxns(t *testing.T) {
	db := setup(t, basicSchema)
	deepEqual(t, db.DescribeOpenTxns(), "NO OPEN TRANSACTIONS")
	tx := must(db.BeginRead())
	desc := db.DescribeOpenTxns()
	if !strings.HasPrefix(desc, "1 OPEN TRANSACTIONS") || !strings.Contains(desc, "read, open for") {
		t.Errorf("** DescribeOpenTxns = %q", desc)
	}
	tx.Close()
	deepEqual(t, db.DescribeOpenTxns(), "NO OPEN TRANSACTIONS")
}

func setup(t testing.TB, schema *Schema) *DB {
	t.Helper()
	path := tempDBFile(t)
	db := must(Open(path, schema, testOptions(t)))
	t.Cleanup(func() { db.Close() })
	return db
}

func tempDBFile(t testing.TB) string {
	t.Helper()
	dbFile := must(os.CreateTemp("", "ixdb_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	return dbFile.Name()
}

func testOptions(t testing.TB) Options {
	return Options{
		IsTesting: true,
		Verbose:   testing.Verbose(),
		Logf:      t.Logf,
	}
}

func checkIntegrity(t testing.TB, db *DB) {
	t.Helper()
	probs, err := CheckStorage(db.Storage())
	if err != nil {
		t.Fatalf("** CheckStorage: %v", err)
	}
	for _, p := range probs {
		t.Errorf("** integrity: %v", p)
	}
}

func allRows[Row any](t testing.TB, tx *Tx) []*Row {
	t.Helper()
	var rows []*Row
	for row, err := range All[Row](tx) {
		if err != nil {
			t.Fatalf("** All: %v", err)
		}
		rows = append(rows, row)
	}
	return rows
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func must3[A, B any](a A, b B, err error) (A, B) {
	if err != nil {
		panic(err)
	}
	return a, b
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}
