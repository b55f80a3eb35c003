package download

import (
	"fmt"
	"os"
)

type TaskState int

const (
	TaskFresh TaskState = iota
	TaskResume
	TaskComplete
)

func (s TaskState) String() string {
	switch s {
	case TaskResume:
		return "resume"
	case TaskComplete:
		return "complete"
	default:
		return "fresh"
	}
}

// ChunkTask is one half-open byte range [Start, End) of a resource and the partial file that
// holds it.
type ChunkTask struct {
	Index        int
	Start        int64
	End          int64
	PartialPath  string
	ResumeOffset int64
	State        TaskState
}

func (t ChunkTask) Len() int64 {
	return t.End - t.Start
}

// Remaining is the number of bytes still to be transferred for the task.
func (t ChunkTask) Remaining() int64 {
	if t.State == TaskComplete {
		return 0
	}
	return t.Len() - t.ResumeOffset
}

// PartialPath is the on-disk name of chunk index of dest. Resuming depends on this name staying
// stable across runs.
func PartialPath(dest string, index int) string {
	return fmt.Sprintf("%s.%d.partial", dest, index)
}

// ChunkCount returns ceil(total / budget).
func ChunkCount(total, budget int64) int {
	if total <= 0 || budget <= 0 {
		return 0
	}
	count := total / budget
	if total%budget != 0 {
		count++
	}
	return int(count)
}

// Plan partitions [0, total) into ranges of at most budget bytes, indexed from 1, and folds in
// whatever partial files a previous run left next to dest. Existing partials are only trusted
// when overwrite is off and the server supports ranges.
func Plan(total, budget int64, dest string, overwrite, rangeSupported bool) ([]ChunkTask, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, budget)
	}
	if total < 0 {
		return nil, fmt.Errorf("cannot plan a resource of negative size %d", total)
	}

	tasks := make([]ChunkTask, 0, ChunkCount(total, budget))
	for start, index := int64(0), 1; start < total; index++ {
		end := total
		if budget < total-start {
			end = start + budget
		}
		task := ChunkTask{
			Index:       index,
			Start:       start,
			End:         end,
			PartialPath: PartialPath(dest, index),
			State:       TaskFresh,
		}
		if !overwrite && rangeSupported {
			if length := partialLength(task.PartialPath); length >= task.Len() {
				task.State = TaskComplete
			} else if length > 0 {
				task.State = TaskResume
				task.ResumeOffset = length
			}
		}
		tasks = append(tasks, task)
		start = end
	}
	return tasks, nil
}

// partialLength returns the size of a regular file at path, or -1.
func partialLength(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}
