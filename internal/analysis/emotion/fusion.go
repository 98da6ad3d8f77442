package emotion

// Source 标记融合结果来自哪一路输入。
type Source string

const (
	SourceAgreement Source = "agreement"
	SourceFace      Source = "face"
	SourceText      Source = "text"
)

// Fuse 将面部情绪与文本情绪合并为一个标签。
//
// 标签相同则直接返回该标签，置信度取两者最大值（都未跟踪时为 1.0）；
// 否则按 Priority 比较，高者胜出；优先级相同时文本胜出。
func Fuse(face, text Reading) Reading {
	fused, _ := Resolve(face, text)
	return fused
}

// Resolve is Fuse that also reports which input won.
func Resolve(face, text Reading) (Reading, Source) {
	face = face.Normalized()
	text = text.Normalized()

	if face.Label == text.Label {
		conf := 1.0
		switch {
		case face.Confidence != nil && text.Confidence != nil:
			conf = max(*face.Confidence, *text.Confidence)
		case face.Confidence != nil:
			conf = *face.Confidence
		case text.Confidence != nil:
			conf = *text.Confidence
		}
		return Reading{Label: face.Label, Confidence: &conf}, SourceAgreement
	}

	if Priority(face.Label) > Priority(text.Label) {
		return face, SourceFace
	}
	return text, SourceText
}

// Dominant picks the emotion a reply should address: the face label when it
// is not neutral, otherwise the text label, collapsed to its family.
func Dominant(face, text Label) Label {
	face = Family(Normalize(string(face)))
	if face != Neutral {
		return face
	}
	return Family(Normalize(string(text)))
}
