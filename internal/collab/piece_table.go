package collab

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable 文档内容缓冲区：original 只读，插入统一追加到 add，
// piece 表描述逻辑顺序。编辑一批操作时按降序偏移应用，避免重算位置。
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	return &PieceTable{
		original: r,
		pieces:   []piece{{buf: bufOriginal, offset: 0, length: len(r)}},
	}
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	out := make([]rune, 0, pt.Len())
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			out = append(out, pt.original[p.offset:p.offset+p.length]...)
		case bufAdd:
			out = append(out, pt.add[p.offset:p.offset+p.length]...)
		}
	}
	return string(out)
}

// Insert 在逻辑位置 pos 插入 text。pos 超界时夹到文档末尾。
func (pt *PieceTable) Insert(pos int, text string) {
	if text == "" {
		return
	}
	if n := pt.Len(); pos > n {
		pos = n
	}
	if pos < 0 {
		pos = 0
	}

	r := []rune(text)
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(r)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	next := make([]piece, 0, len(pt.pieces)+2)
	next = append(next, pt.pieces[:idx]...)
	if left.length > 0 {
		next = append(next, left)
	}
	next = append(next, newPiece)
	if right.length > 0 {
		next = append(next, right)
	}
	next = append(next, pt.pieces[idx+1:]...)
	pt.pieces = next
}

// Delete 从逻辑位置 pos 删除 n 个字符。越界部分忽略。
func (pt *PieceTable) Delete(pos, n int) {
	if n <= 0 {
		return
	}
	if pos < 0 {
		n += pos
		pos = 0
		if n <= 0 {
			return
		}
	}

	remain := n
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// 整个 piece 删掉，idx 原地指向后继
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
		} else {
			leftLen := offset
			rightLen := cur.length - offset - take

			next := make([]piece, 0, len(pt.pieces)+1)
			next = append(next, pt.pieces[:idx]...)
			if leftLen > 0 {
				next = append(next, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				next = append(next, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			next = append(next, pt.pieces[idx+1:]...)
			pt.pieces = next

			if leftLen > 0 {
				idx++
			}
			offset = 0
		}

		remain -= take
	}
}

// locate 把逻辑位置换算成 (piece 下标, piece 内偏移)。
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
