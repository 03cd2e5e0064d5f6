package config

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/25smoking/Panoptes/internal/embedded"
)

// loadDefaults 读取内嵌的默认配置
func loadDefaults() ([]byte, error) {
	data, err := embedded.Content.ReadFile(embedded.DefaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded defaults: %w", err)
	}
	return data, nil
}

// RulesFS 返回签名规则所在的文件系统和目录。
// dir 存在时使用磁盘上的规则，否则回退到内嵌规则。
func RulesFS(dir string) (fs.FS, string) {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir), "."
		}
	}
	return embedded.Content, embedded.RulesDir
}
