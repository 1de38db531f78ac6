package dwarf

// abbrevAttr is one (attribute, form) pair in an abbreviation declaration.
type abbrevAttr struct {
	attr Attr
	form Form
}

// abbrevDecl is one entry of the abbreviation table: the tag, whether the
// DIE using it has children, and its ordered attribute list.
type abbrevDecl struct {
	tag         Tag
	hasChildren bool
	attrs       []abbrevAttr
}

// parseAbbrevTable parses the sequence of abbreviation declarations found
// at off in the debug_abbrev section, terminated by a code-0 entry.
func parseAbbrevTable(buf []byte, off int) (map[uint64]abbrevDecl, error) {
	table := make(map[uint64]abbrevDecl)
	pos := off
	for {
		code, n, err := uleb128(buf, pos)
		if err != nil {
			return nil, err
		}
		pos += n
		if code == 0 {
			return table, nil
		}
		tagv, n, err := uleb128(buf, pos)
		if err != nil {
			return nil, err
		}
		pos += n
		if pos >= len(buf) {
			return nil, errTruncated
		}
		hasChildren := buf[pos] != 0
		pos++

		var attrs []abbrevAttr
		for {
			a, n, err := uleb128(buf, pos)
			if err != nil {
				return nil, err
			}
			pos += n
			f, n, err := uleb128(buf, pos)
			if err != nil {
				return nil, err
			}
			pos += n
			if a == 0 && f == 0 {
				break
			}
			attrs = append(attrs, abbrevAttr{attr: Attr(a), form: Form(f)})
		}
		table[code] = abbrevDecl{tag: Tag(tagv), hasChildren: hasChildren, attrs: attrs}
	}
}
