package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const fileSuffix = "_interactions.jsonl"

// FileLog 是基于文件系统的 Log（JSONL 格式）。
// 每个用户一个文件，每行一条记录。写入按用户串行，读取不加锁：
// 追加写只会在文件末尾产生不完整的行，读取时跳过即可。
type FileLog struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.Mutex             // 保护 locks
	locks map[string]*sync.Mutex // user -> 写锁
}

// NewFileLog 创建 FileLog，必要时创建目录。
func NewFileLog(baseDir string, logger *zap.Logger) (*FileLog, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLog{
		baseDir: baseDir,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// path 返回用户日志文件路径。用户 ID 经无损转义后作为文件名，
// 不同 ID 不会落到同一文件，也不会逃出 baseDir。
func (l *FileLog) path(user string) string {
	return filepath.Join(l.baseDir, url.PathEscape(user)+fileSuffix)
}

func (l *FileLog) userLock(user string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[user]
	if !ok {
		m = &sync.Mutex{}
		l.locks[user] = m
	}
	return m
}

// Append 追加一行 JSON 记录。
func (l *FileLog) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}

	// 先完整编码再一次性写入，避免半行落盘
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	data = append(data, '\n')

	lock := l.userLock(rec.User)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(l.path(rec.User), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Fetch 逐行读取用户的全部记录。
func (l *FileLog) Fetch(ctx context.Context, user string) ([]Record, error) {
	path := l.path(user)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := []Record{}
	scanner := bufio.NewScanner(f)

	// 增加 Buffer 大小以支持超长单行（默认 64KB 可能不够）
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 5*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			l.logger.Warn("skipping malformed audit line",
				zap.String("path", path),
				zap.Int("line", lineNum),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning audit file: %w", err)
	}
	return records, nil
}

// Close 实现 Log 接口。
func (l *FileLog) Close() error { return nil }
