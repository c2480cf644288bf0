package extract

// stopwords is a compact English function-word list used by the
// boilerplate classifier. Real prose keeps roughly a third of its words in
// this set; navigation labels and tag clouds do not.
var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true,
	"an": true, "and": true, "any": true, "are": true, "as": true,
	"at": true, "be": true, "been": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true, "for": true,
	"from": true, "had": true, "has": true, "have": true, "he": true,
	"her": true, "his": true, "if": true, "in": true, "into": true,
	"is": true, "it": true, "its": true, "more": true, "most": true,
	"no": true, "not": true, "of": true, "on": true, "one": true,
	"or": true, "other": true, "our": true, "out": true, "over": true,
	"said": true, "she": true, "so": true, "some": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "to": true,
	"was": true, "we": true, "were": true, "what": true, "when": true,
	"which": true, "who": true, "will": true, "with": true, "would": true,
	"you": true, "your": true,
}
