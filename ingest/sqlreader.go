// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package ingest implements the three-stage build pipeline (spec.md §5):
// Stage A reads the MediaWiki page/redirect SQL dumps into the entity
// dictionary; Stage B reads the Wikidata JSON entity dump into the
// columnar value tables; Stage C scans the claims table to build the
// inverted statement index.
package ingest

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode"
)

// SQLReader parses MediaWiki SQL dump files (page.sql, redirect.sql):
// a single CREATE TABLE statement followed by one or more multi-row
// INSERT INTO ... VALUES statements.
type SQLReader struct {
	lexer   sqlLexer
	columns []string
}

var errSQLParse = errors.New("ingest: sql parse error")

// NewSQLReader skips past the CREATE TABLE statement, recording its
// column names, then positions the reader at the first VALUES row.
func NewSQLReader(r io.Reader) (*SQLReader, error) {
	rd := &SQLReader{
		lexer:   sqlLexer{bufio.NewReader(r)},
		columns: make([]string, 0, 8),
	}

	if err := rd.skipUntil(word, "CREATE"); err != nil {
		return nil, err
	}
	if err := rd.parseCreate(); err != nil {
		return nil, err
	}

	if err := rd.skipUntil(word, "INSERT"); err != nil {
		return nil, err
	}
	if err := rd.skipUntil(word, "VALUES"); err != nil {
		return nil, err
	}

	return rd, nil
}

// Columns returns the column names declared in the CREATE TABLE
// statement, in order.
func (r *SQLReader) Columns() []string {
	return r.columns
}

// Read returns the next row, moving on to the next INSERT statement's
// VALUES list when the current one ends, or (nil, nil) once the dump
// holds no further INSERT statement.
func (r *SQLReader) Read() ([]string, error) {
	token, _, err := r.readToken()
	if err != nil {
		return nil, err
	}
	if token == semicolon {
		if err := r.skipUntil(word, "INSERT"); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
		if err := r.skipUntil(word, "VALUES"); err != nil {
			return nil, err
		}
		token, _, err = r.readToken()
		if err != nil {
			return nil, err
		}
	}

	if token == comma {
		token, _, err = r.readToken()
		if err != nil {
			return nil, err
		}
	}

	if token != leftParen {
		return nil, errSQLParse
	}

	row := make([]string, 0, len(r.columns))
	for {
		token, txt, err := r.readToken()
		if err != nil {
			return nil, err
		}
		if token == number || token == text {
			row = append(row, txt)
		} else if token == word && txt == "NULL" {
			row = append(row, "")
		} else {
			return nil, errSQLParse
		}

		token, _, err = r.readToken()
		if err != nil {
			return nil, err
		}
		if token == comma {
			continue
		} else if token == rightParen {
			break
		} else {
			return nil, errSQLParse
		}
	}

	return row, nil
}

func (r *SQLReader) parseCreate() error {
	if err := r.skipUntil(leftParen, ""); err != nil {
		return err
	}
	for {
		token, tokenText, err := r.readToken()
		if err != nil {
			return err
		}
		if token != name {
			return r.skipUntil(semicolon, "")
		}
		r.columns = append(r.columns, tokenText)
		if err := r.skipUntilEither(comma, rightParen); err != nil {
			return err
		}
	}
}

func (r *SQLReader) skipUntil(token sqlToken, tokenText string) error {
	for {
		tok, txt, err := r.lexer.read()
		if err != nil {
			return err
		}
		if tok == token && txt == tokenText {
			return nil
		}
	}
}

func (r *SQLReader) skipUntilEither(t1, t2 sqlToken) error {
	parenDepth := 0
	for {
		tok, _, err := r.readToken()
		if err != nil {
			return err
		}
		if tok == leftParen {
			parenDepth++
			continue
		}
		if tok == rightParen && parenDepth > 0 {
			parenDepth--
			continue
		}
		if tok == t1 || tok == t2 {
			return nil
		}
	}
}

func (r *SQLReader) readToken() (sqlToken, string, error) {
	for {
		got, gotTxt, err := r.lexer.read()
		if got == comment && err == nil {
			continue
		}
		return got, gotTxt, err
	}
}

type sqlToken int

const (
	unexpected sqlToken = iota
	word                // CREATE, TABLE, NULL, int, unsigned
	name                // `page`, `page_id`
	number              // 12, 12.3, -4
	text                // 'Q31'
	comment
	leftParen
	rightParen
	comma
	semicolon
	minus
	slash
)

type sqlLexer struct {
	reader *bufio.Reader
}

func (lex *sqlLexer) read() (sqlToken, string, error) {
	var c rune
	var err error
	for {
		c, _, err = lex.reader.ReadRune()
		if err != nil || !unicode.IsSpace(c) {
			break
		}
	}
	if err != nil {
		return unexpected, "", err
	}

	switch c {
	case '`':
		t, err := lex.readUntil('`')
		return name, t, err
	case '-':
		next, _, err := lex.reader.ReadRune()
		if err == io.EOF {
			return minus, "", nil
		} else if err != nil {
			return unexpected, "", err
		}
		if unreadErr := lex.reader.UnreadRune(); unreadErr != nil {
			return unexpected, "", unreadErr
		}
		if next == '-' {
			t, err := lex.readUntil('\n')
			if err != nil {
				return unexpected, "", err
			}
			return comment, strings.TrimSpace(t[1:]), nil
		}
		if isNumberStart(next) {
			return lex.readNumber(c)
		}
		return minus, "", nil
	case '\'':
		t, err := lex.readQuotedText()
		return text, t, err
	case '/':
		next, _, err := lex.reader.ReadRune()
		if err == io.EOF {
			return slash, "", nil
		} else if err != nil {
			return unexpected, "", err
		}
		if next == '*' {
			return lex.readSlashStarComment()
		}
		if unreadErr := lex.reader.UnreadRune(); unreadErr != nil {
			return unexpected, "", unreadErr
		}
		return slash, "", nil
	case '(':
		return leftParen, "", nil
	case ')':
		return rightParen, "", nil
	case ',':
		return comma, "", nil
	case ';':
		return semicolon, "", nil
	}
	if isWordChar(c) {
		return lex.readWord(c)
	}
	if isNumberStart(c) {
		return lex.readNumber(c)
	}
	return unexpected, string(c), nil
}

func (lex *sqlLexer) readWord(start rune) (sqlToken, string, error) {
	var buf strings.Builder
	buf.WriteRune(start)
	for {
		c, _, err := lex.reader.ReadRune()
		if err == io.EOF {
			break
		} else if err != nil {
			return unexpected, "", err
		}
		if isWordChar(c) {
			buf.WriteRune(c)
			continue
		}
		if err := lex.reader.UnreadRune(); err != nil {
			return unexpected, "", err
		}
		break
	}
	return word, buf.String(), nil
}

func (lex *sqlLexer) readNumber(start rune) (sqlToken, string, error) {
	gotDot := start == '.'
	var buf strings.Builder
	buf.WriteRune(start)
	for {
		c, _, err := lex.reader.ReadRune()
		if err == io.EOF {
			break
		} else if err != nil {
			return unexpected, "", err
		}
		if c == '.' && !gotDot {
			buf.WriteRune(c)
			gotDot = true
			continue
		}
		if c >= '0' && c <= '9' {
			buf.WriteRune(c)
			continue
		}
		if err := lex.reader.UnreadRune(); err != nil {
			return unexpected, "", err
		}
		break
	}
	return number, buf.String(), nil
}

// readQuotedText reads a single-quoted MySQL dump string literal,
// resolving backslash escapes (spec.md §6: "backslash escapes,
// single-quote strings"). The escapes \0, \n, \r, \t and \Z become NUL,
// newline, carriage return, tab and '\x1a'; any other escaped byte
// (such as an escaped quote or backslash) passes through as itself.
func (lex *sqlLexer) readQuotedText() (string, error) {
	var buf strings.Builder
	for {
		c, _, err := lex.reader.ReadRune()
		if err == io.EOF || c == '\'' {
			break
		}
		if err != nil {
			return "", err
		}
		if c != '\\' {
			buf.WriteRune(c)
			continue
		}
		esc, _, err := lex.reader.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch esc {
		case '0':
			buf.WriteRune('\x00')
		case 'n':
			buf.WriteRune('\n')
		case 'r':
			buf.WriteRune('\r')
		case 't':
			buf.WriteRune('\t')
		case 'Z':
			buf.WriteRune('\x1a')
		default:
			buf.WriteRune(esc)
		}
	}
	return buf.String(), nil
}

func (lex *sqlLexer) readUntil(delim rune) (string, error) {
	var buf strings.Builder
	for {
		c, _, err := lex.reader.ReadRune()
		if c == delim || err == io.EOF {
			break
		} else if err != nil {
			return "", err
		}
		buf.WriteRune(c)
	}
	return buf.String(), nil
}

func (lex *sqlLexer) readSlashStarComment() (sqlToken, string, error) {
	var buf strings.Builder
	var last rune
	for {
		c, _, err := lex.reader.ReadRune()
		if err == io.EOF {
			break
		} else if err != nil {
			return unexpected, "", err
		}
		if c == '/' && last == '*' {
			break
		}
		buf.WriteRune(c)
		last = c
	}
	txt := strings.TrimSpace(strings.TrimSuffix(buf.String(), "*"))
	return comment, txt, nil
}

func isNumberStart(c rune) bool {
	return (c >= '0' && c <= '9') || c == '.'
}

func isWordChar(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '_'
}
