package optimize

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quanta/internal/strategy"

	_ "modernc.org/sqlite"
)

const (
	TrialStateDone   = "done"
	TrialStateFailed = "failed"
)

// Trial 是一次超参试验的流水记录。
type Trial struct {
	Study      string          `json:"study"`
	Number     int             `json:"number"`
	State      string          `json:"state"`
	Value      float64         `json:"value"`
	Params     strategy.Params `json:"params"`
	Err        string          `json:"error,omitempty"`
	BacktestID string          `json:"backtest_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StudyStore 管理 trials 表。单独一个 SQLite 文件，和主库解耦，
// 多个搜索进程可以共享同一个 study 续跑。
type StudyStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewStudyStore(root string) (*StudyStore, error) {
	if root == "" {
		return nil, fmt.Errorf("study store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "study.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureStudySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &StudyStore{db: db, path: path}, nil
}

func (s *StudyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureStudySchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			study TEXT NOT NULL,
			number INTEGER NOT NULL,
			state TEXT NOT NULL,
			value REAL,
			params_json TEXT NOT NULL,
			error TEXT,
			backtest_id TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE(study, number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trials_study_value ON trials(study, state, value);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertTrial 追加一条试验。同一 study 内编号重复会被唯一约束拒绝。
func (s *StudyStore) InsertTrial(ctx context.Context, t Trial) error {
	paramsJSON, err := json.Marshal(t.Params)
	if err != nil {
		return err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var value interface{}
	if t.State == TrialStateDone {
		value = t.Value
	}
	var errMsg interface{}
	if t.Err != "" {
		errMsg = t.Err
	}
	var backtestID interface{}
	if t.BacktestID != "" {
		backtestID = t.BacktestID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trials (study, number, state, value, params_json, error, backtest_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Study, t.Number, t.State, value, string(paramsJSON), errMsg, backtestID, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入试验 %d 失败: %w", t.Number, err)
	}
	return nil
}

// NextTrialNumber 返回 study 的下一个试验编号，空 study 从 0 开始。
func (s *StudyStore) NextTrialNumber(ctx context.Context, study string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number)+1, 0) FROM trials WHERE study=?`, study).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// BestTrial 返回 study 里 value 最高的成功试验，没有则 (nil, nil)。
func (s *StudyStore) BestTrial(ctx context.Context, study string) (*Trial, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT number, state, value, params_json, COALESCE(backtest_id, ''), created_at
		FROM trials WHERE study=? AND state=?
		ORDER BY value DESC, number ASC LIMIT 1`, study, TrialStateDone)
	t, err := scanTrial(row, study)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Trials 按编号升序返回 study 的全部试验。
func (s *StudyStore) Trials(ctx context.Context, study string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, state, COALESCE(value, 0), params_json, COALESCE(error, ''), COALESCE(backtest_id, ''), created_at
		FROM trials WHERE study=? ORDER BY number ASC`, study)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trial
	for rows.Next() {
		var t Trial
		var paramsJSON string
		var created int64
		if err := rows.Scan(&t.Number, &t.State, &t.Value, &paramsJSON, &t.Err, &t.BacktestID, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
			return nil, fmt.Errorf("试验 %d 参数损坏: %w", t.Number, err)
		}
		t.Study = study
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrial(row rowScanner, study string) (*Trial, error) {
	var t Trial
	var paramsJSON string
	var created int64
	err := row.Scan(&t.Number, &t.State, &t.Value, &paramsJSON, &t.BacktestID, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
		return nil, fmt.Errorf("试验 %d 参数损坏: %w", t.Number, err)
	}
	t.Study = study
	t.CreatedAt = time.UnixMilli(created).UTC()
	return &t, nil
}
