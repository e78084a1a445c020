package dmarc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/charset"
)

// some reporters add an unclosed xs tag which makes the document invalid
const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// Node is a generic xml element tree. Every child element is kept by its
// local tag name in document order, so a tag that appears once and a tag that
// repeats are accessed the same way.
// All accessors are safe to call on a nil *Node and report the element as
// absent.
type Node struct {
	Name     string
	Text     string
	children map[string][]*Node
}

func newNode(name string) *Node {
	return &Node{
		Name:     name,
		children: make(map[string][]*Node),
	}
}

// ParseTree parses an xml document into a tree. The returned node is a
// synthetic document root, the document element is one of its children.
func ParseTree(xmlText string) (*Node, error) {
	content := strings.ReplaceAll(xmlText, xsTag, "")

	decoder := xml.NewDecoder(bytes.NewBufferString(content))
	decoder.CharsetReader = charset.Reader

	root := newNode("")
	stack := []*Node{root}
	text := []*strings.Builder{{}}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("error on xml parse: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			parent := stack[len(stack)-1]
			n := newNode(t.Name.Local)
			parent.children[n.Name] = append(parent.children[n.Name], n)
			stack = append(stack, n)
			text = append(text, &strings.Builder{})
		case xml.CharData:
			text[len(text)-1].Write(t)
		case xml.EndElement:
			if len(stack) == 1 {
				return nil, fmt.Errorf("unexpected closing tag %s", t.Name.Local)
			}
			n := stack[len(stack)-1]
			n.Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("unclosed element %s", stack[len(stack)-1].Name)
	}
	if len(root.children) == 0 {
		return nil, errors.New("document has no root element")
	}

	return root, nil
}

// Child returns the first child element with the given name.
func (n *Node) Child(name string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	c := n.children[name]
	if len(c) == 0 {
		return nil, false
	}
	return c[0], true
}

// All returns all child elements with the given name in document order.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	return n.children[name]
}

// Lookup follows the path of element names, taking the first match on every
// level.
func (n *Node) Lookup(path ...string) (*Node, bool) {
	current := n
	for _, p := range path {
		next, ok := current.Child(p)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, current != nil
}

// TextAt returns the trimmed character data of the element at path.
func (n *Node) TextAt(path ...string) (string, bool) {
	c, ok := n.Lookup(path...)
	if !ok {
		return "", false
	}
	return c.Text, true
}
