package migrations

import (
	"embed"
	"io/fs"
)

//go:embed mysql/*.sql sqlite/*.sql
var files embed.FS

// Dialect 返回指定数据库方言的迁移文件。
func Dialect(name string) (fs.FS, error) {
	return fs.Sub(files, name)
}
