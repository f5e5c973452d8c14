// Package baseline keeps schedule snapshots for each project in its own git
// repository. Every baseline is a commit of schedule.json on main; named
// baselines also get a lightweight tag.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"buildtrack/api/internal/gantt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const scheduleFile = "schedule.json"

var ErrNotFound = errors.New("baseline not found")

type Task struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parentId,omitempty"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	DurationDays int       `json:"durationDays"`
	Progress     int       `json:"progress"`
	IsCritical   bool      `json:"isCritical"`
}

type Snapshot struct {
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	TakenAt   time.Time `json:"takenAt"`
	Tasks     []Task    `json:"tasks"`
}

type Info struct {
	Hash      string    `json:"hash"`
	Name      string    `json:"name"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Snapshot commits the given tasks as a new baseline. The repository is
// created on first use.
func (s *Service) Snapshot(projectID, name string, tasks []Task, author string) (Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Baseline " + time.Now().UTC().Format(time.DateOnly)
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(projectID)
	if err != nil {
		return Info{}, err
	}

	ordered := append([]Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	snapshot := Snapshot{
		ProjectID: projectID,
		Name:      name,
		TakenAt:   time.Now().UTC(),
		Tasks:     ordered,
	}

	hash, err := commit(repo, snapshot, author, name)
	if err != nil {
		return Info{}, err
	}

	_, err = repo.CreateTag(tagName(name), hash, &git.CreateTagOptions{
		Tagger:  signature("Buildtrack"),
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Info{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Info{}, fmt.Errorf("read commit object: %w", err)
	}
	return toInfo(commitObj), nil
}

// History lists baselines newest first. A project without baselines has an
// empty history.
func (s *Service) History(projectID string, limit int) ([]Info, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Info, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get loads the snapshot stored at hash. Abbreviated hashes are accepted.
func (s *Service) Get(projectID, hash string) (Snapshot, Info, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, Info{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, Info{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Info{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Snapshot{}, Info{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, Info{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snapshot, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Info{}, err
	}
	return snapshot, toInfo(commitObj), nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func (s *Service) openOrInit(projectID string) (*git.Repository, error) {
	path := s.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func commit(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, scheduleFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", scheduleFile, err)
	}
	if _, err := worktree.Add(scheduleFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(scheduleFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", scheduleFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(reader).Decode(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	if hash == "" {
		return plumbing.ZeroHash, ErrNotFound
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, ErrNotFound)
	}
	return *resolved, nil
}

func toInfo(commitObj *object.Commit) Info {
	return Info{
		Hash:      commitObj.Hash.String()[:7],
		Name:      strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(name string) *object.Signature {
	if strings.TrimSpace(name) == "" {
		name = "Buildtrack"
	}
	return &object.Signature{
		Name:  name,
		Email: fmt.Sprintf("%s@baselines.buildtrack.local", sanitizeEmail(name)),
		When:  time.Now(),
	}
}

var tagUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

func tagName(name string) string {
	slug := strings.Trim(tagUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "unnamed"
	}
	return "baseline-" + slug
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

// VarianceStatus classifies how a task moved relative to its baseline.
type VarianceStatus string

const (
	OnTrack VarianceStatus = "on_track"
	Slipped VarianceStatus = "slipped"
	Ahead   VarianceStatus = "ahead"
	Added   VarianceStatus = "added"
	Removed VarianceStatus = "removed"
)

type TaskVariance struct {
	TaskID        string         `json:"taskId"`
	Name          string         `json:"name"`
	Status        VarianceStatus `json:"status"`
	BaselineStart *time.Time     `json:"baselineStart,omitempty"`
	BaselineEnd   *time.Time     `json:"baselineEnd,omitempty"`
	CurrentStart  *time.Time     `json:"currentStart,omitempty"`
	CurrentEnd    *time.Time     `json:"currentEnd,omitempty"`
	StartSlipDays int            `json:"startSlipDays"`
	EndSlipDays   int            `json:"endSlipDays"`
}

// Variance compares the current schedule with a baseline. Positive slip means
// the current date is later than planned. Results are ordered by task ID with
// removed tasks included.
func Variance(base Snapshot, current []Task) []TaskVariance {
	planned := make(map[string]Task, len(base.Tasks))
	for _, task := range base.Tasks {
		planned[task.ID] = task
	}

	result := make([]TaskVariance, 0, len(current)+len(base.Tasks))
	seen := make(map[string]bool, len(current))
	for _, task := range current {
		seen[task.ID] = true
		start, end := gantt.Day(task.StartDate), gantt.Day(task.EndDate)
		item := TaskVariance{
			TaskID:       task.ID,
			Name:         task.Name,
			CurrentStart: &start,
			CurrentEnd:   &end,
		}
		was, ok := planned[task.ID]
		if !ok {
			item.Status = Added
			result = append(result, item)
			continue
		}
		baseStart, baseEnd := gantt.Day(was.StartDate), gantt.Day(was.EndDate)
		item.BaselineStart = &baseStart
		item.BaselineEnd = &baseEnd
		item.StartSlipDays = gantt.DaysBetween(baseStart, start)
		item.EndSlipDays = gantt.DaysBetween(baseEnd, end)
		switch {
		case item.EndSlipDays > 0:
			item.Status = Slipped
		case item.EndSlipDays < 0:
			item.Status = Ahead
		default:
			item.Status = OnTrack
		}
		result = append(result, item)
	}

	for _, was := range base.Tasks {
		if seen[was.ID] {
			continue
		}
		baseStart, baseEnd := gantt.Day(was.StartDate), gantt.Day(was.EndDate)
		result = append(result, TaskVariance{
			TaskID:        was.ID,
			Name:          was.Name,
			Status:        Removed,
			BaselineStart: &baseStart,
			BaselineEnd:   &baseEnd,
		})
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].TaskID < result[j].TaskID })
	return result
}
