package ocr

const systemPrompt = `You are an OCR engine for school textbook pages. You read a page image and
report its text and its non-text regions as JSON. You never summarize or
rewrite the text.`

const pagePrompt = `Read this textbook page image (%d x %d pixels).

Return ONLY a JSON object with this structure:
{
  "fullText": "all text on the page in reading order, paragraphs separated by blank lines",
  "confidence": 0.0-1.0,
  "textBlocks": [
    {"text": "...", "confidence": 0.0-1.0, "boundingBox": {"x": 0, "y": 0, "width": 0, "height": 0}}
  ],
  "images": [
    {"description": "short caption of the figure, diagram or photo", "confidence": 0.0-1.0,
     "boundingBox": {"x": 0, "y": 0, "width": 0, "height": 0}}
  ]
}

RULES:
- Bounding boxes are in pixels of the image you were given, origin at the top-left
- Keep headings, lists and paragraphs in the order a student would read them
- Do not include page numbers, running headers or footers in fullText
- List every figure, diagram, chart, table drawn as an image, or photo in "images"
- If the page has no text, return an empty fullText; if it has no figures, return an empty images array`
