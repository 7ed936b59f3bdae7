package db

import "testing"

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, `SELECT * FROM tasks WHERE id=?`, `SELECT * FROM tasks WHERE id=?`},
		{Postgres, `UPDATE tasks SET status=?, display_order=? WHERE id=?`, `UPDATE tasks SET status=$1, display_order=$2 WHERE id=$3`},
		{Postgres, `SELECT '?' AS q, id FROM tasks WHERE id=?`, `SELECT '?' AS q, id FROM tasks WHERE id=$1`},
	}
	for _, c := range cases {
		if got := Rebind(c.dialect, c.in); got != c.want {
			t.Fatalf("Rebind(%s, %q) = %q, want %q", c.dialect, c.in, got, c.want)
		}
	}
}

func TestConfigDialect(t *testing.T) {
	if (Config{}).Dialect() != SQLite {
		t.Fatalf("empty driver should default to sqlite")
	}
	if (Config{Driver: "pgx"}).Dialect() != Postgres {
		t.Fatalf("pgx driver should map to postgres")
	}
	if _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected dsn error for postgres without dsn")
	}
}
