// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

package ingest

import (
	"bufio"
	"io"
	"slices"
	"strings"
	"testing"
)

const pageDumpFixture = "" +
	"-- MySQL dump 10.19\n" +
	"CREATE TABLE `page` (\n" +
	"  `page_id` int(8) unsigned NOT NULL,\n" +
	"  `page_namespace` int(11) NOT NULL,\n" +
	"  `page_title` varbinary(255) NOT NULL\n" +
	") ENGINE=InnoDB;\n" +
	"INSERT INTO `page` VALUES (1,0,'Belgium'),(2,0,'Berlin'),(3,0,'Paris');\n"

func TestSQLReader(t *testing.T) {
	reader, err := NewSQLReader(strings.NewReader(pageDumpFixture))
	if err != nil {
		t.Fatal(err)
	}

	gotCol := reader.Columns()
	wantCol := []string{"page_id", "page_namespace", "page_title"}
	if !slices.Equal(gotCol, wantCol) {
		t.Errorf("got columns %v, want %v", gotCol, wantCol)
	}

	var got []string
	for {
		row, err := reader.Read()
		if row == nil {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, strings.Join(row, "|"))
	}
	want := []string{"1|0|Belgium", "2|0|Berlin", "3|0|Paris"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSQLLexer(t *testing.T) {
	for _, tc := range []struct{ input, want string }{
		{"", ""},
		{" ", ""},
		{"✱", "Unexpected[✱]"},
		{"-- MySQL dump 10.19\n", "Comment[MySQL dump 10.19]"},
		{" ABC\nNULL ", "Word[ABC] Word[NULL]"},
		{"DROP TABLE `page`;", "Word[DROP] Word[TABLE] Name[page] Semicolon"},
		{"-", "Minus"},
		{"-A", "Minus Word[A]"},
		{"42", "Number[42]"},
		{"0.1", "Number[0.1]"},
		{".7, -42, 1.8", "Number[.7] Comma Number[-42] Comma Number[1.8]"},
		{"int(10)", "Word[int] LeftParen Number[10] RightParen"},
		{"'Q31'", "Text[Q31]"},
		{`'Bird\'s-foot'`, "Text[Bird's-foot]"},
		{`'a\\b'`, `Text[a\b]`},
		{"/* foo */", "Comment[foo]"},
	} {
		if got := lex(tc.input); got != tc.want {
			t.Errorf("input %v: got %v, want %v", tc.input, got, tc.want)
		}
	}
}

func lex(s string) string {
	lexer := sqlLexer{reader: bufio.NewReader(strings.NewReader(s))}
	var buf strings.Builder
	for {
		token, txt, err := lexer.read()
		if err == io.EOF {
			return buf.String()
		} else if err != nil {
			return err.Error()
		}
		if buf.Len() > 0 {
			buf.WriteRune(' ')
		}
		switch token {
		case unexpected:
			buf.WriteString("Unexpected")
		case word:
			buf.WriteString("Word")
		case name:
			buf.WriteString("Name")
		case number:
			buf.WriteString("Number")
		case text:
			buf.WriteString("Text")
		case comment:
			buf.WriteString("Comment")
		case leftParen:
			buf.WriteString("LeftParen")
		case rightParen:
			buf.WriteString("RightParen")
		case comma:
			buf.WriteString("Comma")
		case semicolon:
			buf.WriteString("Semicolon")
		case minus:
			buf.WriteString("Minus")
		case slash:
			buf.WriteString("Slash")
		default:
			buf.WriteString("?")
		}
		if txt != "" {
			buf.WriteRune('[')
			buf.WriteString(txt)
			buf.WriteRune(']')
		}
	}
}
