package apihttp

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed backtest_schema.json
var backtestSchemaDoc []byte

// backtestSchema 包住编译好的请求 schema，校验入口统一处理空体与坏 JSON。
type backtestSchema struct {
	compiled *jsonschema.Schema
}

func compileBacktestSchema() (*backtestSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("backtest_schema.json", bytes.NewReader(backtestSchemaDoc)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("backtest_schema.json")
	if err != nil {
		return nil, err
	}
	return &backtestSchema{compiled: compiled}, nil
}

func (s *backtestSchema) validate(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("请求体为空")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("json 格式无效: %w", err)
	}
	return s.compiled.Validate(doc)
}
