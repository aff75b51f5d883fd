package orderbook

import (
	"github.com/shopspring/decimal"
)

type color uint8

const (
	red   color = 0
	black color = 1
)

type treeNode struct {
	key    decimal.Decimal
	level  *PriceLevel
	color  color
	left   *treeNode
	right  *treeNode
	parent *treeNode
}

// DepthLevel is one row of a depth snapshot.
type DepthLevel struct {
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	OrderCount int             `json:"orderCount"`
}

// LevelTree is a red-black tree of price levels. Direction is expressed
// through a single comparator: the ask tree orders ascending (lowest price is
// best), the bid tree descending (highest price is best). Best is therefore
// always the tree minimum under the comparator, and in-order traversal walks
// levels from best to worst.
//
// Invariant: a level with an empty order queue never stays in the tree, so
// "level exists" is equivalent to "resting liquidity exists at that price".
type LevelTree struct {
	root *treeNode
	nil_ *treeNode // black sentinel
	size int
	cmp  func(a, b decimal.Decimal) int
}

// NewLevelTree constructs an empty tree. With descending=false the minimum
// key is the best price (asks); with descending=true comparisons flip their
// arguments so the maximum key becomes the best price (bids).
func NewLevelTree(descending bool) *LevelTree {
	sentinel := &treeNode{color: black}
	cmp := func(a, b decimal.Decimal) int { return a.Cmp(b) }
	if descending {
		cmp = func(a, b decimal.Decimal) int { return b.Cmp(a) }
	}
	return &LevelTree{
		root: sentinel,
		nil_: sentinel,
		cmp:  cmp,
	}
}

func (t *LevelTree) Size() int { return t.size }

// Find returns the level at an exact price, or nil.
func (t *LevelTree) Find(price decimal.Decimal) *PriceLevel {
	n := t.root
	for n != t.nil_ {
		switch c := t.cmp(price, n.key); {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.level
		}
	}
	return nil
}

// GetOrCreate returns the level at price, inserting an empty one if absent.
func (t *LevelTree) GetOrCreate(price decimal.Decimal) *PriceLevel {
	y := t.nil_
	x := t.root
	for x != t.nil_ {
		y = x
		switch c := t.cmp(price, x.key); {
		case c < 0:
			x = x.left
		case c > 0:
			x = x.right
		default:
			return x.level
		}
	}

	lvl := NewPriceLevel(price)
	z := &treeNode{
		key:    price,
		level:  lvl,
		color:  red,
		left:   t.nil_,
		right:  t.nil_,
		parent: y,
	}
	if y == t.nil_ {
		t.root = z
	} else if t.cmp(z.key, y.key) < 0 {
		y.left = z
	} else {
		y.right = z
	}
	t.insertFixup(z)
	t.size++
	return lvl
}

// Delete removes the level at price. Returns false if no such level exists.
func (t *LevelTree) Delete(price decimal.Decimal) bool {
	z := t.searchNode(price)
	if z == t.nil_ {
		return false
	}
	t.deleteNode(z)
	t.size--
	return true
}

// Best returns the best level (lowest ask / highest bid), or nil.
func (t *LevelTree) Best() *PriceLevel {
	n := t.minNode(t.root)
	if n == t.nil_ {
		return nil
	}
	return n.level
}

// Worst returns the worst level (highest ask / lowest bid), or nil.
func (t *LevelTree) Worst() *PriceLevel {
	n := t.maxNode(t.root)
	if n == t.nil_ {
		return nil
	}
	return n.level
}

// ForEach visits levels from best to worst until fn returns false.
func (t *LevelTree) ForEach(fn func(*PriceLevel) bool) {
	for n := t.minNode(t.root); n != t.nil_; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

// Depth collects the top levels (best first) as a snapshot.
func (t *LevelTree) Depth(levels int) []DepthLevel {
	out := make([]DepthLevel, 0, levels)
	t.ForEach(func(lvl *PriceLevel) bool {
		out = append(out, DepthLevel{
			Price:      lvl.Price,
			Volume:     lvl.TotalVolume,
			OrderCount: lvl.OrderCount,
		})
		return len(out) < levels
	})
	return out
}

// Clear resets the tree to empty.
func (t *LevelTree) Clear() {
	t.root = t.nil_
	t.size = 0
}

/******************** Internal helpers ********************/

func (t *LevelTree) searchNode(price decimal.Decimal) *treeNode {
	n := t.root
	for n != t.nil_ {
		switch c := t.cmp(price, n.key); {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n
		}
	}
	return t.nil_
}

func (t *LevelTree) minNode(n *treeNode) *treeNode {
	if n == t.nil_ {
		return t.nil_
	}
	for n.left != t.nil_ {
		n = n.left
	}
	return n
}

func (t *LevelTree) maxNode(n *treeNode) *treeNode {
	if n == t.nil_ {
		return t.nil_
	}
	for n.right != t.nil_ {
		n = n.right
	}
	return n
}

func (t *LevelTree) next(n *treeNode) *treeNode {
	if n == nil || n == t.nil_ {
		return t.nil_
	}
	if n.right != t.nil_ {
		return t.minNode(n.right)
	}
	p := n.parent
	for p != t.nil_ && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *LevelTree) leftRotate(x *treeNode) {
	y := x.right
	x.right = y.left
	if y.left != t.nil_ {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nil_ {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *LevelTree) rightRotate(y *treeNode) {
	x := y.left
	y.left = x.right
	if x.right != t.nil_ {
		x.right.parent = y
	}
	x.parent = y.parent
	if y.parent == t.nil_ {
		t.root = x
	} else if y == y.parent.right {
		y.parent.right = x
	} else {
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *LevelTree) insertFixup(z *treeNode) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *LevelTree) transplant(u, v *treeNode) {
	if u.parent == t.nil_ {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *LevelTree) deleteNode(z *treeNode) {
	y := z
	yOrigColor := y.color
	var x *treeNode

	if z.left == t.nil_ {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nil_ {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minNode(z.right)
		yOrigColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOrigColor == black {
		t.deleteFixup(x)
	}
}

func (t *LevelTree) deleteFixup(x *treeNode) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(x.parent)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
