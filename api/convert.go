package api

import (
	"strings"

	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/queen"
)

func fabricAlgorithm(s string) fabric.Algorithm {
	return fabric.Algorithm(strings.ToLower(strings.TrimSpace(s)))
}

func queenType(s string) queen.Type {
	return queen.Type(strings.ToLower(strings.TrimSpace(s)))
}
