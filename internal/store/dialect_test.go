package store

import "testing"

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"":           DialectSQLite,
		"sqlite":     DialectSQLite,
		"SQLite3":    DialectSQLite,
		"postgres":   DialectPostgres,
		" pgx ":      DialectPostgres,
		"postgresql": DialectPostgres,
	}
	for input, want := range cases {
		got, err := ParseDialect(input)
		if err != nil {
			t.Fatalf("ParseDialect(%q) error = %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseDialect(%q) = %s, want %s", input, got, want)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	query := `SELECT * FROM messages WHERE counterpart = ? AND instr(content, ?) > 0 LIMIT ?`
	if got := DialectSQLite.rebind(query); got != query {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := `SELECT * FROM messages WHERE counterpart = $1 AND instr(content, $2) > 0 LIMIT $3`
	if got := DialectPostgres.rebind(query); got != want {
		t.Fatalf("postgres rebind = %s, want %s", got, want)
	}
}

func TestSQLiteDSNAddsPragmas(t *testing.T) {
	if got := sqliteDSN("sqlite://relay.db"); got != "relay.db?"+sqlitePragmas {
		t.Fatalf("unexpected dsn %s", got)
	}
	if got := sqliteDSN("relay.db?mode=rwc"); got != "relay.db?mode=rwc&"+sqlitePragmas {
		t.Fatalf("unexpected dsn %s", got)
	}
	custom := "relay.db?_pragma=foreign_keys(1)"
	if got := sqliteDSN(custom); got != custom {
		t.Fatalf("expected custom pragmas kept, got %s", got)
	}
}

func TestSecretsLock(t *testing.T) {
	if got := DialectSQLite.secretsLock(); got != "" {
		t.Fatalf("expected no lock statement for sqlite, got %q", got)
	}
	if got := DialectPostgres.rebind(DialectPostgres.secretsLock()); got != "SELECT pg_advisory_xact_lock($1)" {
		t.Fatalf("unexpected postgres lock statement %q", got)
	}
}
