package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// Channel is the NOTIFY channel the change triggers publish on.
const Channel = "leapbase_changes"

// TriggerName is the change trigger installed on every watched table.
const TriggerName = "leapbase_notify_trigger"

// NotifyFeed pushes changes through LISTEN/NOTIFY. Row triggers call the
// leapbase_notify() function created by the internal migrations; the
// listener holds a dedicated connection outside the pool.
type NotifyFeed struct {
	DB      *sql.DB
	DSN     string
	Dialect *dialect.Dialect
	Logger  *slog.Logger
}

// TriggerStatements returns the statements that (re)install the change
// trigger of a table.
func TriggerStatements(d *dialect.Dialect, table string) []string {
	name := d.QuoteIdentifier(TriggerName)
	tbl := d.QuoteIdentifier(table)
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, tbl),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION leapbase_notify()", name, tbl),
	}
}

// Install creates the change trigger on each table.
func (f *NotifyFeed) Install(ctx context.Context, tables []string) error {
	for _, t := range tables {
		for _, stmt := range TriggerStatements(f.Dialect, t) {
			if _, err := f.DB.ExecContext(ctx, stmt); err != nil {
				return &core.StorageError{Op: "install change capture on " + t, Err: err}
			}
		}
		f.Logger.Debug("installed change trigger", slog.String("table", t))
	}
	return nil
}

// Listen opens the listening connection and blocks until ctx is done.
func (f *NotifyFeed) Listen(ctx context.Context, emit func(core.ChangeEvent) error) error {
	conn, err := pgx.Connect(ctx, f.DSN)
	if err != nil {
		return &core.StorageError{Op: "listen", Err: adapter.Redact(err, core.AdapterConfig{DSN: f.DSN})}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return &core.StorageError{Op: "listen", Err: err}
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &core.StorageError{Op: "listen", Err: err}
		}
		ev, err := state.DecodeEvent(0, n.Payload)
		if err != nil {
			f.Logger.Warn("skipping undecodable notification", slog.String("error", err.Error()))
			continue
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}
