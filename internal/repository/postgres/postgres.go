package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mekleo/dnsvantage/internal/domain"
	"github.com/mekleo/dnsvantage/internal/repository"
)

// Store implements the domain store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New constructs a Store.
func New(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log != nil {
		log = log.With("component", "store")
	}
	return &Store{pool: pool, log: log}
}

var _ repository.DomainStore = (*Store)(nil)

// LoadDomains returns every tracked domain ordered by rank.
func (s *Store) LoadDomains(ctx context.Context) ([]*domain.Domain, error) {
	const query = `SELECT rank, name, COALESCE(query_time_avg, 0), COALESCE(query_time_stddev, 0), COALESCE(query_count, 0), time_first, time_last
		FROM domains ORDER BY rank`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := make([]*domain.Domain, 0)
	for rows.Next() {
		var (
			rank        int64
			name        string
			avg, stddev float64
			count       uint64
			first, last sql.NullTime
		)
		if err := rows.Scan(&rank, &name, &avg, &stddev, &count, &first, &last); err != nil {
			return nil, err
		}
		domains = append(domains, domain.Restore(rank, name, avg, stddev, count, nullTimeToEpoch(first), nullTimeToEpoch(last)))
	}
	return domains, rows.Err()
}

// AddDomains inserts domains by name. Storage assigns each rank, which is
// written back onto the inserted domain.
func (s *Store) AddDomains(ctx context.Context, domains []*domain.Domain) error {
	if len(domains) == 0 {
		return nil
	}
	const query = `INSERT INTO domains (name, query_time_avg, query_time_stddev, query_count, time_first, time_last)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING rank`
	for _, d := range domains {
		st := d.Stats()
		var rank int64
		err := s.pool.QueryRow(ctx, query,
			st.Name,
			st.QueryTimeAvg,
			st.QueryTimeStdDev,
			st.QueryCount,
			epochToNil(st.TimeFirst),
			epochToNil(st.TimeLast),
		).Scan(&rank)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case "23505", "23514", "22P02":
					return repository.ErrInvalidArgument
				}
			}
			return err
		}
		d.SetRank(rank)
		if s.log != nil {
			s.log.Debug("domain inserted", "domain", st.Name, "rank", rank)
		}
	}
	return nil
}

// DeleteDomains removes tracked domains by name match. Their measurements go
// with them through the cascade.
func (s *Store) DeleteDomains(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	const query = `DELETE FROM domains WHERE name = ANY($1)`
	cmdTag, err := s.pool.Exec(ctx, query, names)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	if s.log != nil {
		s.log.Debug("domains deleted", "requested", len(names), "deleted", cmdTag.RowsAffected())
	}
	return nil
}

// SaveDomains persists current statistics for every domain and moves each
// domain's pending events into the measurements table, all in one
// transaction. On failure the drained events are requeued on their domains
// so the next flush retries them.
func (s *Store) SaveDomains(ctx context.Context, domains []*domain.Domain) (err error) {
	if len(domains) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	drained := make(map[*domain.Domain][]domain.Event, len(domains))
	defer func() {
		if err != nil {
			for d, evs := range drained {
				d.Requeue(evs)
			}
		}
	}()

	const update = `UPDATE domains
		SET query_time_avg = $2,
			query_time_stddev = $3,
			query_count = $4,
			time_first = $5,
			time_last = $6
		WHERE rank = $1`
	const insert = `INSERT INTO measurements (time, target, kind, duration_ms, domain_rank)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	events := 0
	for _, d := range domains {
		st := d.Stats()
		if st.Rank == 0 {
			// Never persisted; there is no row to update and no rank for
			// its measurements to reference.
			continue
		}
		batch.Queue(update,
			st.Rank,
			st.QueryTimeAvg,
			st.QueryTimeStdDev,
			st.QueryCount,
			epochToNil(st.TimeFirst),
			epochToNil(st.TimeLast),
		)
		evs := d.DrainEvents()
		if len(evs) > 0 {
			drained[d] = evs
		}
		for _, ev := range evs {
			batch.Queue(insert,
				time.Unix(ev.Time, 0).UTC(),
				ev.Target,
				int16(ev.Kind),
				ev.DurationMS,
				st.Rank,
			)
			events++
		}
	}
	if batch.Len() == 0 {
		return nil
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err = br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err = br.Close(); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Debug("domains saved", "domains", len(domains), "measurements", events)
	}
	return nil
}

// Ping ensures the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases underlying connections.
func (s *Store) Close() {
	s.pool.Close()
}

func epochToNil(sec int64) any {
	if sec == 0 {
		return nil
	}
	return time.Unix(sec, 0).UTC()
}

func nullTimeToEpoch(t sql.NullTime) int64 {
	if !t.Valid {
		return 0
	}
	return t.Time.Unix()
}
