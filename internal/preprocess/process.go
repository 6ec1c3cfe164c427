package preprocess

import "strings"

// boostFactor is the number of times the leading identifier is repeated
// ahead of the original query text, exploiting that embedding functions
// weight repeated terms more heavily.
const boostFactor = 3

// Result is the outcome of Processor.Process: the text to embed/retrieve
// with, and an optional metadata filter to enforce exactness.
type Result struct {
	AugmentedText string
	Filter        *Filter
}

// Processor turns a raw user query into retrieval inputs.
type Processor struct {
	extractor *Extractor
}

// NewProcessor builds a Processor around extractor. Passing nil uses the
// default CVE-only extractor.
func NewProcessor(extractor *Extractor) *Processor {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Processor{extractor: extractor}
}

// Process turns a raw query into retrieval inputs. When extraction yields at
// least one identifier, the first one (by first-occurrence order) drives
// both the augmented text and the filter; otherwise the query passes
// through unmodified and no filter is applied.
func (p *Processor) Process(query string) Result {
	ids := p.extractor.Extract(query)
	if len(ids) == 0 {
		return Result{AugmentedText: query, Filter: nil}
	}

	leading := ids[0]
	var b strings.Builder
	for i := 0; i < boostFactor; i++ {
		b.WriteString(leading)
		b.WriteByte(' ')
	}
	b.WriteString(query)

	return Result{
		AugmentedText: b.String(),
		Filter:        NewIdentifierFilter(leading),
	}
}
