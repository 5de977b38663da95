// =============================================================================
// LearnRAG 语料加载
// =============================================================================
// 从 YAML 文件加载教学语料: 内容片段 + 概念关系边
// =============================================================================
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/learnrag/retrieval"
)

// Corpus 是 YAML 语料文件的顶层结构.
type Corpus struct {
	Spans     []retrieval.ContentSpan `yaml:"-"`
	Relations []ConceptRelation       `yaml:"-"`
}

// ConceptRelation 概念图的一条无向边.
type ConceptRelation struct {
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Weight float64 `yaml:"weight"`
}

// corpusFile 是 YAML 的直接映射, 加载后转换为 retrieval 类型.
type corpusFile struct {
	Spans []struct {
		Text   string `yaml:"text"`
		Source struct {
			DocumentID string `yaml:"document_id"`
			Title      string `yaml:"title"`
			SourceType string `yaml:"source_type"`
			Page       int    `yaml:"page"`
			Offset     int    `yaml:"offset"`
			Citations  int    `yaml:"citations"`
		} `yaml:"source"`
		Concepts      []string `yaml:"concepts"`
		Prerequisites []string `yaml:"prerequisites"`
		Difficulty    string   `yaml:"difficulty"`
	} `yaml:"spans"`
	Relations []ConceptRelation `yaml:"relations"`
}

// loadCorpus 加载并转换语料文件.
func loadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}

	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse corpus file: %w", err)
	}
	if len(file.Spans) == 0 {
		return nil, fmt.Errorf("corpus file %s contains no spans", path)
	}

	corpus := &Corpus{Relations: file.Relations}
	for i, s := range file.Spans {
		if s.Text == "" {
			return nil, fmt.Errorf("span %d has empty text", i)
		}
		if s.Source.DocumentID == "" {
			return nil, fmt.Errorf("span %d has no document_id", i)
		}
		corpus.Spans = append(corpus.Spans, retrieval.ContentSpan{
			Text: s.Text,
			Source: retrieval.SourceRef{
				DocumentID: s.Source.DocumentID,
				Title:      s.Source.Title,
				SourceType: s.Source.SourceType,
				Page:       s.Source.Page,
				Offset:     s.Source.Offset,
				Citations:  s.Source.Citations,
			},
			Concepts:      s.Concepts,
			Prerequisites: s.Prerequisites,
			Difficulty:    retrieval.Difficulty(s.Difficulty),
		})
	}

	return corpus, nil
}
