package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/stokaro/catalogsync/catalog/matcher"
	"github.com/stokaro/catalogsync/core/product"
)

// Document is an in-memory catalog. Element order is insertion order and carries
// no meaning for lookups.
type Document struct {
	doc     *etree.Document
	matcher matcher.Matcher
}

// Element is one Product element of a Document.
type Element struct {
	el *etree.Element
}

// Position is the ordinal of an element among the Product elements of a document.
type Position int

func newDocument(m matcher.Matcher) *Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", xmlDeclaration)
	doc.CreateElement(RootTag)
	return &Document{doc: doc, matcher: m}
}

func (d *Document) root() *etree.Element {
	return d.doc.Root()
}

// Elements returns the Product elements in document order.
func (d *Document) Elements() []*Element {
	children := d.root().SelectElements(ProductTag)
	elements := make([]*Element, len(children))
	for i, child := range children {
		elements[i] = &Element{el: child}
	}
	return elements
}

// Len returns the number of Product elements.
func (d *Document) Len() int {
	return len(d.root().SelectElements(ProductTag))
}

// Append adds a new element built from every field of rec. The identifier is
// written only when it is set. No uniqueness check happens here.
func (d *Document) Append(rec product.Record) *Element {
	el := &Element{el: d.root().CreateElement(ProductTag)}
	writeFields(el.el, rec)
	return el
}

// FindByIDOrKey returns the element carrying identifier id, falling back to the
// composite key. The boolean is false when nothing matches.
func (d *Document) FindByIDOrKey(id int64, key product.MatchKey) (*Element, bool) {
	elements := d.Elements()
	i, ok := d.matcher.Match(entries(elements), id, key)
	if !ok {
		return nil, false
	}
	return elements[i], true
}

// FindByID returns the element carrying identifier id, without key fallback.
func (d *Document) FindByID(id int64) (*Element, bool) {
	elements := d.Elements()
	i, ok := matcher.MatchID(entries(elements), id)
	if !ok {
		return nil, false
	}
	return elements[i], true
}

// UpdateElement overwrites every field of el with the values of rec, creating any
// missing field nodes. Nodes are never removed, and the identifier is left alone
// when rec carries none.
func (d *Document) UpdateElement(el *Element, rec product.Record) {
	writeFields(el.el, rec)
}

// Remove detaches el from the document and returns its former position.
func (d *Document) Remove(el *Element) Position {
	pos := Position(-1)
	for i, child := range d.root().SelectElements(ProductTag) {
		if child == el.el {
			pos = Position(i)
			break
		}
	}
	d.root().RemoveChild(el.el)
	return pos
}

// Restore inserts a detached element back at pos, or at the end when the document
// has fewer elements than that now.
func (d *Document) Restore(pos Position, el *Element) {
	root := d.root()
	products := root.SelectElements(ProductTag)
	if pos >= 0 && int(pos) < len(products) {
		root.InsertChildAt(products[pos].Index(), el.el)
		return
	}
	root.AddChild(el.el)
}

// normalizeDeclaration makes the XML declaration match the UTF-8 output, whatever
// encoding the file was read with.
func (d *Document) normalizeDeclaration() {
	for _, tok := range d.doc.Child {
		if pi, ok := tok.(*etree.ProcInst); ok && pi.Target == "xml" {
			pi.Inst = xmlDeclaration
			return
		}
	}
	d.doc.InsertChildAt(0, &etree.ProcInst{Target: "xml", Inst: xmlDeclaration})
}

// Clone returns a detached deep copy of the element.
func (e *Element) Clone() *Element {
	return &Element{el: e.el.Copy()}
}

// Same reports whether e and other wrap the same node of a document.
func (e *Element) Same(other *Element) bool {
	return other != nil && e.el == other.el
}

// Field returns the text of the named child and whether the child exists.
func (e *Element) Field(name string) (string, bool) {
	child := e.el.SelectElement(name)
	if child == nil {
		return "", false
	}
	return child.Text(), true
}

// ID returns the normalized identifier of the element, if it carries a usable one.
func (e *Element) ID() (int64, bool) {
	text, ok := e.Field(product.FieldID)
	if !ok {
		return 0, false
	}
	return matcher.NormalizeID(text)
}

// Record decodes the element into a product record. Missing fields keep their zero
// value; malformed ones are reported together.
func (e *Element) Record() (product.Record, error) {
	var rec product.Record
	var errs []error

	if id, ok := e.ID(); ok {
		rec.ID = id
	}
	rec.ModelName, _ = e.Field(product.FieldModelName)
	rec.Category, _ = e.Field(product.FieldCategory)
	rec.ManufacturerName, _ = e.Field(product.FieldManufacturerName)
	rec.Image, _ = e.Field(product.FieldImage)
	rec.Description, _ = e.Field(product.FieldDescription)

	if text, ok := e.Field(product.FieldPrice); ok && strings.TrimSpace(text) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", product.FieldPrice, err))
		}
		rec.Price = price
	}
	if text, ok := e.Field(product.FieldInventory); ok && strings.TrimSpace(text) != "" {
		n, err := parseLegacyInt(text)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", product.FieldInventory, err))
		}
		rec.Inventory = n
	}
	for name, dst := range map[string]*bool{
		product.FieldOnSale:             &rec.OnSale,
		product.FieldManufacturerRebate: &rec.ManufacturerRebate,
	} {
		text, ok := e.Field(name)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		*dst = b
	}

	return rec, errors.Join(errs...)
}

func entries(elements []*Element) []matcher.Entry {
	out := make([]matcher.Entry, len(elements))
	for i, el := range elements {
		id, hasID := el.Field(product.FieldID)
		model, _ := el.Field(product.FieldModelName)
		category, _ := el.Field(product.FieldCategory)
		price, _ := el.Field(product.FieldPrice)
		out[i] = matcher.Entry{
			ID:        id,
			HasID:     hasID,
			ModelName: model,
			Category:  category,
			Price:     price,
		}
	}
	return out
}

func writeFields(el *etree.Element, rec product.Record) {
	if rec.ID > 0 {
		id := el.SelectElement(product.FieldID)
		if id == nil {
			// Identifier goes first so upgraded legacy entries look like new ones
			id = etree.NewElement(product.FieldID)
			el.InsertChildAt(0, id)
		}
		id.SetText(strconv.FormatInt(rec.ID, 10))
	}

	setField(el, product.FieldModelName, rec.ModelName)
	setField(el, product.FieldCategory, rec.Category)
	setField(el, product.FieldPrice, product.FormatPrice(rec.Price))
	setField(el, product.FieldOnSale, strconv.FormatBool(rec.OnSale))
	setField(el, product.FieldManufacturerName, rec.ManufacturerName)
	setField(el, product.FieldManufacturerRebate, strconv.FormatBool(rec.ManufacturerRebate))
	setField(el, product.FieldInventory, strconv.FormatInt(rec.Inventory, 10))
	setField(el, product.FieldImage, rec.Image)
	setField(el, product.FieldDescription, rec.Description)
}

func setField(el *etree.Element, name, value string) {
	child := el.SelectElement(name)
	if child == nil {
		child = el.CreateElement(name)
	}
	child.SetText(value)
}

// parseLegacyInt accepts integers written as floats by older catalog writers ("50.0").
func parseLegacyInt(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '.'); i >= 0 {
		text = text[:i]
	}
	return strconv.ParseInt(text, 10, 64)
}
