package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const memoryCapacity = 512

// MemoryRepository 将运行记录追加写入本地 JSON 日志，并在内存中保留最近的记录。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []RunRecord
}

// NewMemoryRepository 创建仓库并从磁盘恢复历史记录。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRepository{dataFile: filepath.Join(dataDir, "runs.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录运行结果。
func (m *MemoryRepository) Save(_ context.Context, record RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}

	m.records = append([]RunRecord{record}, m.records...)
	if len(m.records) > memoryCapacity {
		m.records = m.records[:memoryCapacity]
	}
	return nil
}

// ListLatest 返回最近的运行记录，按时间倒序排列。
func (m *MemoryRepository) ListLatest(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]RunRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 Repository，文件在每次写入后已关闭。
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	// 按行读取，不限制单行长度，计划正文或错误响应可能很长。
	reader := bufio.NewReader(file)
	var restored []RunRecord
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var record RunRecord
			if jsonErr := json.Unmarshal(line, &record); jsonErr == nil {
				restored = append([]RunRecord{record}, restored...)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("解析运行日志失败: %w", err)
		}
	}

	if len(restored) > memoryCapacity {
		restored = restored[:memoryCapacity]
	}
	m.records = restored
	return nil
}
