package vlm

// BuildCodingPrompt returns the extraction prompt sent alongside a medical
// document image. The reply contract is a bare JSON array; the reply parser
// still tolerates fenced or prose-wrapped output because models do not
// reliably honor it.
func BuildCodingPrompt() string {
	return `You are a certified medical coder. Analyse this medical document image ` +
		`and return ONLY a JSON array of ICD-10 diagnosis codes that apply. ` +
		`Each element must have exactly two keys: "code" and "description". ` +
		`Do not include any explanation, markdown, or extra text - just the raw JSON array. ` +
		`Example: [{"code": "J18.9", "description": "Pneumonia, unspecified organism"}]`
}
