package store

// Schema is the NFe schema. Column names are the external storage contract
// shared with downstream reporting tools, so they stay in Portuguese.
// Monetary and quantity columns are TEXT: values round-trip through
// decimal strings, never binary floats.
const Schema = `
CREATE TABLE IF NOT EXISTS nfe_cabecalho (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    chave_acesso        TEXT UNIQUE NOT NULL,
    numero_nf           TEXT NOT NULL DEFAULT '',
    serie               TEXT NOT NULL DEFAULT '',
    data_emissao        TEXT,
    data_saida_entrada  TEXT,
    tipo_operacao       TEXT NOT NULL DEFAULT '',
    cnpj_emitente       TEXT NOT NULL DEFAULT '',
    nome_emitente       TEXT NOT NULL DEFAULT '',
    cnpj_destinatario   TEXT NOT NULL DEFAULT '',
    nome_destinatario   TEXT NOT NULL DEFAULT '',
    valor_total         TEXT NOT NULL DEFAULT '0',
    valor_icms          TEXT NOT NULL DEFAULT '0',
    valor_pis           TEXT NOT NULL DEFAULT '0',
    valor_cofins        TEXT NOT NULL DEFAULT '0',
    arquivo_xml         TEXT NOT NULL DEFAULT '',
    caminho_original    TEXT NOT NULL DEFAULT '',
    data_processamento  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS nfe_itens (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    chave_acesso             TEXT NOT NULL REFERENCES nfe_cabecalho(chave_acesso) ON DELETE CASCADE,
    numero_item              INTEGER NOT NULL,
    codigo_produto           TEXT NOT NULL DEFAULT '',
    descricao_produto        TEXT NOT NULL DEFAULT '',
    cfop                     TEXT NOT NULL DEFAULT '',
    unidade_comercial        TEXT NOT NULL DEFAULT '',
    quantidade_comercial     TEXT NOT NULL DEFAULT '0',
    valor_unitario_comercial TEXT NOT NULL DEFAULT '0',
    valor_total_produto      TEXT NOT NULL DEFAULT '0',
    valor_icms               TEXT NOT NULL DEFAULT '0',
    valor_pis                TEXT NOT NULL DEFAULT '0',
    valor_cofins             TEXT NOT NULL DEFAULT '0'
);

CREATE INDEX IF NOT EXISTS idx_itens_chave ON nfe_itens(chave_acesso);
`
