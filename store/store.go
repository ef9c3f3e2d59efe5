// Package store persists parsed NFe documents into SQLite. A header and
// its items are written as one transaction: both land or neither does.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscalstream/nfeflow/dbopen"
	"github.com/fiscalstream/nfeflow/nfe"
)

// ErrDuplicateKey is returned by SaveDocument when a document with the
// same access key is already persisted. Access keys are immutable by the
// standard's design, so callers treat this as already-processed.
var ErrDuplicateKey = errors.New("store: access key already persisted")

// Store wraps the NFe database. It is owned by a single writer (the
// pipeline) for its entire lifetime.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the database at path, creating parent
// directories and applying the schema.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Document is a persisted NFe read back from storage.
type Document struct {
	Header         nfe.Header
	Items          []nfe.Item
	SourceFilename string
	OriginalPath   string
	ProcessedAt    string
}

// SaveDocument persists a header and its items atomically. sourceFilename
// is the file's base name; originalPath is its path relative to the watch
// root, kept for traceability after the file is moved.
//
// Returns ErrDuplicateKey without touching any row when the access key is
// already stored.
func (s *Store) SaveDocument(ctx context.Context, header *nfe.Header, items []nfe.Item, sourceFilename, originalPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	// Single-writer model: the check and the insert run in one
	// transaction, and the UNIQUE index backs it up regardless.
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nfe_cabecalho WHERE chave_acesso = ?`, header.AccessKey,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store: duplicate check: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nfe_cabecalho (
			chave_acesso, numero_nf, serie, data_emissao, data_saida_entrada,
			tipo_operacao, cnpj_emitente, nome_emitente, cnpj_destinatario,
			nome_destinatario, valor_total, valor_icms, valor_pis, valor_cofins,
			arquivo_xml, caminho_original
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		header.AccessKey, header.Number, header.Series,
		nullDate(header.IssueDate), nullDate(header.DispatchDate),
		header.OperationNature, header.IssuerCNPJ, header.IssuerName,
		header.RecipientCNPJ, header.RecipientName,
		header.TotalValue.String(), header.TotalICMS.String(),
		header.TotalPIS.String(), header.TotalCOFINS.String(),
		sourceFilename, originalPath,
	)
	if err != nil {
		return fmt.Errorf("store: insert header: %w", err)
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nfe_itens (
				chave_acesso, numero_item, codigo_produto, descricao_produto,
				cfop, unidade_comercial, quantidade_comercial,
				valor_unitario_comercial, valor_total_produto,
				valor_icms, valor_pis, valor_cofins
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			header.AccessKey, item.Sequence, item.ProductCode, item.Description,
			item.CFOP, item.Unit, item.Quantity.String(),
			item.UnitValue.String(), item.TotalValue.String(),
			item.ICMSValue.String(), item.PISValue.String(), item.COFINSValue.String(),
		)
		if err != nil {
			return fmt.Errorf("store: insert item %d: %w", item.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// GetDocument returns a persisted document by access key, items ordered
// by their sequence number. Returns nil, nil when not found.
func (s *Store) GetDocument(ctx context.Context, accessKey string) (*Document, error) {
	doc := &Document{}
	var issue, dispatch sql.NullString
	var total, icms, pis, cofins string

	err := s.db.QueryRowContext(ctx, `
		SELECT chave_acesso, numero_nf, serie, data_emissao, data_saida_entrada,
		       tipo_operacao, cnpj_emitente, nome_emitente, cnpj_destinatario,
		       nome_destinatario, valor_total, valor_icms, valor_pis, valor_cofins,
		       arquivo_xml, caminho_original, data_processamento
		FROM nfe_cabecalho WHERE chave_acesso = ?`, accessKey,
	).Scan(
		&doc.Header.AccessKey, &doc.Header.Number, &doc.Header.Series,
		&issue, &dispatch, &doc.Header.OperationNature,
		&doc.Header.IssuerCNPJ, &doc.Header.IssuerName,
		&doc.Header.RecipientCNPJ, &doc.Header.RecipientName,
		&total, &icms, &pis, &cofins,
		&doc.SourceFilename, &doc.OriginalPath, &doc.ProcessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}

	doc.Header.IssueDate = parseDate(issue)
	doc.Header.DispatchDate = parseDate(dispatch)
	if doc.Header.TotalValue, err = scanDecimal(total, "valor_total"); err != nil {
		return nil, err
	}
	if doc.Header.TotalICMS, err = scanDecimal(icms, "valor_icms"); err != nil {
		return nil, err
	}
	if doc.Header.TotalPIS, err = scanDecimal(pis, "valor_pis"); err != nil {
		return nil, err
	}
	if doc.Header.TotalCOFINS, err = scanDecimal(cofins, "valor_cofins"); err != nil {
		return nil, err
	}

	doc.Items, err = s.listItems(ctx, accessKey)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) listItems(ctx context.Context, accessKey string) ([]nfe.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT numero_item, codigo_produto, descricao_produto, cfop,
		       unidade_comercial, quantidade_comercial, valor_unitario_comercial,
		       valor_total_produto, valor_icms, valor_pis, valor_cofins
		FROM nfe_itens WHERE chave_acesso = ? ORDER BY numero_item`, accessKey,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer rows.Close()

	var items []nfe.Item
	for rows.Next() {
		var item nfe.Item
		var qty, unit, total, icms, pis, cofins string
		if err := rows.Scan(&item.Sequence, &item.ProductCode, &item.Description,
			&item.CFOP, &item.Unit, &qty, &unit, &total, &icms, &pis, &cofins); err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		for _, f := range []struct {
			dst  *decimal.Decimal
			raw  string
			name string
		}{
			{&item.Quantity, qty, "quantidade_comercial"},
			{&item.UnitValue, unit, "valor_unitario_comercial"},
			{&item.TotalValue, total, "valor_total_produto"},
			{&item.ICMSValue, icms, "valor_icms"},
			{&item.PISValue, pis, "valor_pis"},
			{&item.COFINSValue, cofins, "valor_cofins"},
		} {
			if *f.dst, err = scanDecimal(f.raw, f.name); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountDocuments returns the number of persisted headers.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nfe_cabecalho`).Scan(&n)
	return n, err
}

// CountItems returns the number of item rows for an access key.
func (s *Store) CountItems(ctx context.Context, accessKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nfe_itens WHERE chave_acesso = ?`, accessKey).Scan(&n)
	return n, err
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}

func parseDate(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func scanDecimal(s, column string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("store: column %s holds %q: %w", column, s, err)
	}
	return d, nil
}
