package board

import (
	"cmp"
	"slices"

	"github.com/chxlky/taskboard/internal/models"
)

// Between returns a position strictly between prev and next. A nil bound is
// open. ok is false when float64 can no longer split the interval and the
// list has to be rebalanced.
func Between(prev, next *float64) (pos float64, ok bool) {
	switch {
	case prev == nil && next == nil:
		return models.RankGap, true
	case next == nil:
		return *prev + models.RankGap, true
	case prev == nil:
		return *next - models.RankGap, true
	}
	mid := *prev + (*next-*prev)/2
	return mid, *prev < mid && mid < *next
}

// arrayMove moves the element at from to index to, shifting the elements in
// between. tasks is modified in place.
func arrayMove(tasks []models.Task, from, to int) []models.Task {
	if from == to {
		return tasks
	}
	t := tasks[from]
	tasks = slices.Delete(tasks, from, from+1)
	return slices.Insert(tasks, to, t)
}

// moveToListEnd moves tasks[from] right behind the last other task of listID
// and returns the new index. The task stays where it is when the list is empty.
func moveToListEnd(tasks []models.Task, from int, listID string) ([]models.Task, int) {
	last := -1
	for i := range tasks {
		if i != from && tasks[i].ListID == listID {
			last = i
		}
	}
	switch {
	case last < 0:
		return tasks, from
	case last > from:
		return arrayMove(tasks, from, last), last
	default:
		return arrayMove(tasks, from, last+1), last + 1
	}
}

// neighbours returns the positions of the closest tasks of the same list
// before and after tasks[idx].
func neighbours(tasks []models.Task, idx int) (prev, next *float64) {
	listID := tasks[idx].ListID
	for i := idx - 1; i >= 0; i-- {
		if tasks[i].ListID == listID {
			p := tasks[i].Position
			prev = &p
			break
		}
	}
	for i := idx + 1; i < len(tasks); i++ {
		if tasks[i].ListID == listID {
			p := tasks[i].Position
			next = &p
			break
		}
	}
	return prev, next
}

// rebalance renumbers the tasks of listID to RankGap, 2*RankGap, ... in
// sequence order. It returns the placements that changed, with the task
// named first leading the result.
func rebalance(tasks []models.Task, listID, first string) []models.Placement {
	var out []models.Placement
	n := 0
	for i := range tasks {
		if tasks[i].ListID != listID {
			continue
		}
		n++
		pos := float64(n) * models.RankGap
		if tasks[i].Position == pos && tasks[i].ID != first {
			continue
		}
		tasks[i].Position = pos
		p := models.Placement{TaskID: tasks[i].ID, ListID: listID, Position: pos}
		if tasks[i].ID == first {
			out = append([]models.Placement{p}, out...)
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortByPosition(tasks []models.Task) {
	slices.SortStableFunc(tasks, func(a, b models.Task) int {
		return cmp.Compare(a.Position, b.Position)
	})
}
