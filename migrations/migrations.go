// Package migrations はスキーマ定義のSQLファイルを埋め込んで提供する。
// ファイル名は {version}_{name}.sql 形式で、1ファイル1ステートメントとする。
package migrations

import "embed"

// FS は埋め込まれたマイグレーションファイル。
//
//go:embed *.sql
var FS embed.FS
