package solver

import (
	"fmt"
	"strings"

	"github.com/hexlite/hexlited/internal/model"
)

// FilePrefix marks additional parameters carrying a workspace file.
const FilePrefix = "file:"

// FileParameter is a file materialized in the workspace before the solver starts.
type FileParameter struct {
	Filename string
	Content  []byte
}

func (f FileParameter) String() string {
	head := f.Content
	if len(head) > 10 {
		head = head[:10]
	}
	return fmt.Sprintf("filename=%s content=%q...", f.Filename, head)
}

// Classify splits additional parameters into command line parameters and files.
// Keys prefixed by "file:" name a file, the value is its content. All other
// parameters are kept in their original order.
func Classify(params model.Parameters) (model.Parameters, []FileParameter) {
	ret := model.Parameters{
		NumberOfAnswers:          params.NumberOfAnswers,
		ReturnOnlyOptimalAnswers: params.ReturnOnlyOptimalAnswers,
	}

	var files []FileParameter
	for _, p := range params.AdditionalParameters {
		if name, ok := strings.CutPrefix(p.Key, FilePrefix); ok {
			files = append(files, FileParameter{
				Filename: name,
				Content:  []byte(p.Value),
			})
			continue
		}
		ret.AdditionalParameters = append(ret.AdditionalParameters, p)
	}
	return ret, files
}
