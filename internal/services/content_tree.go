package services

import (
	"sort"

	"coursemarket_echo/internal/models"
)

// MaterialNode is a material as shown to one viewer. FileURL is cleared when
// the material is locked.
type MaterialNode struct {
	models.Material
	Accessible bool `json:"accessible"`
}

// LessonNode is a lesson with its direct materials and child lessons.
// ItemCount includes the materials of every descendant.
type LessonNode struct {
	models.Lesson
	Materials  []*MaterialNode `json:"materials"`
	Children   []*LessonNode   `json:"children"`
	ItemCount  int             `json:"item_count"`
	Accessible bool            `json:"accessible"`
}

// ContentTree is the learner view of a course
type ContentTree struct {
	CourseID        uint            `json:"course_id"`
	Lessons         []*LessonNode   `json:"lessons"`
	Legacy          []*MaterialNode `json:"legacy_materials"`
	Current         *MaterialNode   `json:"current,omitempty"`
	Enrolled        bool            `json:"enrolled"`
	TotalMaterials  int             `json:"total_materials"`
	AccessibleCount int             `json:"accessible_count"`
	LockedCount     int             `json:"locked_count"`
}

// BuildContentTree assembles lessons and materials, fetched in any order, into
// an ordered forest plus the list of materials that belong to no lesson.
// A parent cycle in the input is broken rather than followed, so every lesson
// appears exactly once.
func BuildContentTree(courseID uint, lessons []models.Lesson, materials []models.Material, enrollment *models.Enrollment) *ContentTree {
	tree := &ContentTree{
		CourseID: courseID,
		Lessons:  []*LessonNode{},
		Legacy:   []*MaterialNode{},
		Enrolled: enrollment.GrantsAccess() && enrollment.CourseID == courseID,
	}

	nodes := make(map[uint]*LessonNode, len(lessons))
	order := make([]*LessonNode, 0, len(lessons))
	for i := range lessons {
		if lessons[i].CourseID != courseID {
			continue
		}
		if _, dup := nodes[lessons[i].ID]; dup {
			continue
		}
		n := &LessonNode{Lesson: lessons[i], Materials: []*MaterialNode{}, Children: []*LessonNode{}}
		nodes[n.ID] = n
		order = append(order, n)
	}

	for i := range materials {
		m := materials[i]
		if m.CourseID != courseID {
			continue
		}
		node := &MaterialNode{Material: m, Accessible: m.IsFree || tree.Enrolled}
		if !node.Accessible {
			node.FileURL = nil
		}
		if m.LessonID != nil {
			if owner, ok := nodes[*m.LessonID]; ok {
				owner.Materials = append(owner.Materials, node)
				continue
			}
		}
		tree.Legacy = append(tree.Legacy, node)
	}

	parentOf := make(map[uint]uint, len(order))
	var roots []*LessonNode
	for _, n := range order {
		if n.ParentLessonID != nil && *n.ParentLessonID != n.ID {
			if parent, ok := nodes[*n.ParentLessonID]; ok {
				parent.Children = append(parent.Children, n)
				parentOf[n.ID] = parent.ID
				continue
			}
		}
		roots = append(roots, n)
	}

	// Lessons unreachable from a root hang off a parent cycle. Cut the cycle
	// where the parent walk first repeats and walk again.
	visited := make(map[uint]bool, len(order))
	for _, r := range roots {
		markReachable(r, visited)
	}
	for _, n := range order {
		if visited[n.ID] {
			continue
		}
		cut := cycleEntry(n, parentOf, nodes)
		if pid, ok := parentOf[cut.ID]; ok {
			parent := nodes[pid]
			parent.Children = removeChild(parent.Children, cut.ID)
			delete(parentOf, cut.ID)
		}
		roots = append(roots, cut)
		markReachable(cut, visited)
	}

	sortMaterials(tree.Legacy)
	for _, n := range order {
		sortMaterials(n.Materials)
		sortLessons(n.Children)
	}
	sortLessons(roots)
	if roots != nil {
		tree.Lessons = roots
	}

	counts := make(map[uint]int, len(order))
	for _, r := range tree.Lessons {
		countItems(r, counts)
		markAccessible(r, tree.Enrolled)
	}

	for _, n := range order {
		for _, m := range n.Materials {
			tree.tally(m)
		}
	}
	for _, m := range tree.Legacy {
		tree.tally(m)
	}

	tree.Current = firstMaterial(tree.Lessons)
	if tree.Current == nil && len(tree.Legacy) > 0 {
		tree.Current = tree.Legacy[0]
	}
	return tree
}

func (t *ContentTree) tally(m *MaterialNode) {
	t.TotalMaterials++
	if m.Accessible {
		t.AccessibleCount++
	} else {
		t.LockedCount++
	}
}

// markReachable walks a subtree once. A visited child is skipped, which is
// what keeps a malformed forest from looping.
func markReachable(n *LessonNode, visited map[uint]bool) {
	if visited[n.ID] {
		return
	}
	visited[n.ID] = true
	for _, c := range n.Children {
		markReachable(c, visited)
	}
}

func cycleEntry(n *LessonNode, parentOf map[uint]uint, nodes map[uint]*LessonNode) *LessonNode {
	seen := make(map[uint]bool)
	cur := n
	for !seen[cur.ID] {
		seen[cur.ID] = true
		pid, ok := parentOf[cur.ID]
		if !ok {
			return cur
		}
		cur = nodes[pid]
	}
	return cur
}

func removeChild(children []*LessonNode, id uint) []*LessonNode {
	out := children[:0]
	for _, c := range children {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func countItems(n *LessonNode, memo map[uint]int) int {
	if c, ok := memo[n.ID]; ok {
		return c
	}
	total := len(n.Materials)
	for _, c := range n.Children {
		total += countItems(c, memo)
	}
	memo[n.ID] = total
	n.ItemCount = total
	return total
}

// markAccessible opens a lesson when the viewer is enrolled or when anything
// inside it is free
func markAccessible(n *LessonNode, enrolled bool) bool {
	open := enrolled
	for _, m := range n.Materials {
		if m.Accessible {
			open = true
		}
	}
	for _, c := range n.Children {
		if markAccessible(c, enrolled) {
			open = true
		}
	}
	n.Accessible = open
	return open
}

func firstMaterial(lessons []*LessonNode) *MaterialNode {
	for _, n := range lessons {
		if len(n.Materials) > 0 {
			return n.Materials[0]
		}
		if m := firstMaterial(n.Children); m != nil {
			return m
		}
	}
	return nil
}

func sortMaterials(ms []*MaterialNode) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].OrderIndex < ms[j].OrderIndex })
}

func sortLessons(ls []*LessonNode) {
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].OrderIndex < ls[j].OrderIndex })
}
