package notifybus

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5"
)

// Channel is the Postgres LISTEN/NOTIFY channel name the PoI Store
// notifies on after queuing a cross-check report (spec.md §4.B).
const Channel = "cross_check_reports"

// PGListener bridges Postgres LISTEN/NOTIFY on Channel into a Bus.
// LISTEN blocks on its connection for the life of the listener, so it
// needs a dedicated *pgx.Conn rather than a pool connection.
type PGListener struct {
	conn *pgx.Conn
	bus  *Bus
}

// NewPGListener opens a dedicated connection to dbURL and issues
// LISTEN on Channel. The caller must call Run to start delivering
// notifications and Close to release the connection.
func NewPGListener(ctx context.Context, dbURL string, bus *Bus) (*PGListener, error) {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return &PGListener{conn: conn, bus: bus}, nil
}

// Run blocks, waiting for notifications and republishing them on the
// Bus, until ctx is cancelled or the connection fails.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		notif, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if notif.Channel != Channel {
			continue
		}
		log.Printf("[notifybus] received notification payload=%s", notif.Payload)
		l.bus.Publish(Report{Payload: notif.Payload})
	}
}

func (l *PGListener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
