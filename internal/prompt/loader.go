// Package prompt loads and caches the instruction files driving generation.
package prompt

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	systemPromptFile = "system_prompt.txt"
	taskPromptFile   = "task_prompt.txt"

	// FallbackSystemPrompt keeps the service usable when the prompt file is
	// missing. The task prompt has no fallback: recommending tasks off an
	// improvised instruction produces garbage, so that path fails instead.
	FallbackSystemPrompt = "너는 감정 기반 챗봇이야. 사용자의 감정을 존중하고, " +
		"공감적 질문을 통해 사용자가 스스로 감정을 탐색하도록 돕는다."
)

// Loader reads prompt files from a directory and caches them until
// invalidated.
type Loader struct {
	dir string

	mu     sync.RWMutex
	system string
	task   string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// System returns the cached system prompt, reading it on first use. A
// missing file logs a warning and yields the fallback prompt.
func (l *Loader) System() string {
	l.mu.RLock()
	cached := l.system
	l.mu.RUnlock()
	if cached != "" {
		return cached
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.system != "" {
		return l.system
	}
	path := filepath.Join(l.dir, systemPromptFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("prompt: %s not readable, using fallback: %v", systemPromptFile, err)
		l.system = FallbackSystemPrompt
		return l.system
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		log.Printf("prompt: %s is empty, using fallback", systemPromptFile)
		text = FallbackSystemPrompt
	}
	l.system = text
	return l.system
}

// Task returns the cached task-recommendation prompt, reading it on first
// use. A missing or empty file is an error.
func (l *Loader) Task() (string, error) {
	l.mu.RLock()
	cached := l.task
	l.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task != "" {
		return l.task, nil
	}
	path := filepath.Join(l.dir, taskPromptFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", taskPromptFile, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%s is empty", taskPromptFile)
	}
	l.task = text
	return l.task, nil
}

// Invalidate drops the cache so the next read hits disk. Called after the
// prompt files are rewritten.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.system = ""
	l.task = ""
}

// Compose joins the system prompt with an optional task prompt the way the
// generation request expects them.
func Compose(system, task string) string {
	if strings.TrimSpace(task) == "" {
		return system
	}
	return system + "\n\n---\n[Task Prompt]\n" + task
}
