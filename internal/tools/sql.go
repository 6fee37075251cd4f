package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ragagent/internal/domain"
)

// ErrUnsafeSQL is returned when the generated statement is not a single
// read-only query.
var ErrUnsafeSQL = errors.New("generated SQL is not a single read-only query")

const (
	DefaultSQLToolName = "database"
	DefaultMaxRows     = 50
)

const defaultSQLDescription = "Useful for structured questions about companies and devices: counts, filters, " +
	"comparisons and rankings over their specifications. Input is a detailed plain text question."

const textToSQLPrompt = `Given an input question, first create a syntactically correct %s query to run, then look at the results of the query and return the answer. You can order the results by a relevant column to return the most interesting examples in the database.

Never query for all the columns from a specific table, only ask for a few relevant columns given the question.

Pay attention to use only the column names that you can see in the schema description. Be careful to not query for columns that do not exist. Pay attention to which column is in which table. Use wildcards to match every spelling of a device type name. Also, qualify column names with the table name when needed. You are required to use the following format, each taking one line:

Question: Question here
SQLQuery: SQL Query to run
SQLResult: Result of the SQLQuery
Answer: Final answer here

Only use tables listed below.
%s

Question: %s
SQLQuery: `

const synthesisPrompt = `Given an input question, synthesize a response from the query results.
Query: %s
SQL: %s
SQL Response: %s
Response: `

var (
	fenceRe    = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	readOnlyRe = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	writeRe    = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|truncate|grant|revoke|vacuum|merge|call)\b`)
)

// Querier is the part of *sql.DB the SQL tool uses.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLConfig configures a SQLTool.
type SQLConfig struct {
	Name        string
	Description string
	Dialect     string
	Schema      string
	MaxRows     int
}

// SQLTool answers structured questions by generating and running SQL.
type SQLTool struct {
	cfg    SQLConfig
	db     Querier
	llm    domain.LLM
	logger *slog.Logger
}

// NewSQLTool creates a text-to-SQL tool over db.
func NewSQLTool(cfg SQLConfig, db Querier, llm domain.LLM, logger *slog.Logger) (*SQLTool, error) {
	if db == nil || llm == nil {
		return nil, fmt.Errorf("sql tool needs a database and a model")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultSQLToolName
	}
	if cfg.Description == "" {
		cfg.Description = defaultSQLDescription
	}
	if cfg.Dialect == "" {
		cfg.Dialect = "sqlite"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLTool{cfg: cfg, db: db, llm: llm, logger: logger}, nil
}

func (t *SQLTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{Name: t.cfg.Name, Description: t.cfg.Description}
}

// Run turns the question into SQL, executes it and describes the result.
func (t *SQLTool) Run(ctx context.Context, args map[string]any) (domain.ToolOutput, error) {
	question, err := decodeInput(args)
	if err != nil {
		return domain.ToolOutput{}, err
	}
	ctx, span := otel.Tracer("ragagent/tools").Start(ctx, "tool.sql")
	defer span.End()

	reply, err := t.llm.Chat(ctx, []domain.Message{
		{Role: domain.RoleUser, Content: fmt.Sprintf(textToSQLPrompt, t.cfg.Dialect, t.cfg.Schema, question)},
	})
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("generate sql: %w", err)
	}
	stmt, err := ExtractSQL(reply)
	if err != nil {
		return domain.ToolOutput{}, err
	}
	span.SetAttributes(attribute.String("db.statement", stmt))
	t.logger.Debug("running generated sql", "tool", t.cfg.Name, "sql", stmt)

	table, sources, err := t.query(ctx, stmt)
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("run sql %q: %w", stmt, err)
	}
	answer, err := t.llm.Chat(ctx, []domain.Message{
		{Role: domain.RoleUser, Content: fmt.Sprintf(synthesisPrompt, question, stmt, table)},
	})
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("synthesise sql answer: %w", err)
	}
	return domain.ToolOutput{Content: strings.TrimSpace(answer), Sources: sources}, nil
}

// ExtractSQL pulls the statement out of a text-to-SQL reply and rejects
// anything but a single SELECT or WITH query.
func ExtractSQL(reply string) (string, error) {
	s := reply
	if i := strings.Index(s, "SQLQuery:"); i >= 0 {
		s = s[i+len("SQLQuery:"):]
	}
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	for _, marker := range []string{"SQLResult:", "Answer:"} {
		if i := strings.Index(s, marker); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "; \n\t")
	if s == "" || !readOnlyRe.MatchString(s) || strings.Contains(s, ";") || writeRe.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeSQL, s)
	}
	return s, nil
}

// query runs stmt and renders at most MaxRows rows. Rows that carry a
// pdf_url or web_url column are returned as source nodes.
func (t *SQLTool) query(ctx context.Context, stmt string) (string, []domain.ScoredNode, error) {
	rows, err := t.db.QueryContext(ctx, stmt)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString(strings.Join(cols, " | "))
	var sources []domain.ScoredNode
	n := 0
	for rows.Next() {
		if n == t.cfg.MaxRows {
			b.WriteString("\n...")
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", nil, err
		}
		cells := make([]string, len(cols))
		md := map[string]any{}
		for i, v := range vals {
			cells[i] = cell(v)
			switch cols[i] {
			case domain.MetaPDFURL, domain.MetaWebURL, domain.MetaPageIdx, domain.MetaProductName, domain.MetaCompanyName:
				if v != nil {
					md[cols[i]] = cells[i]
				}
			}
		}
		b.WriteString("\n" + strings.Join(cells, " | "))
		if md[domain.MetaPDFURL] != nil || md[domain.MetaWebURL] != nil {
			md[domain.MetaCollection] = t.cfg.Name
			sources = append(sources, domain.ScoredNode{Node: domain.Node{
				ID:       fmt.Sprintf("%s:%d", t.cfg.Name, n),
				Content:  strings.Join(cells, " | "),
				Metadata: md,
			}})
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	if n == 0 {
		b.WriteString("\n(no rows)")
	}
	return b.String(), sources, nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
