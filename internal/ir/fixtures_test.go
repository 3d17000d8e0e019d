package ir

// rangeView is Aggregate(Filter(Scan(t), x between lo and hi), [g], [sum(v)]).
func rangeView() Plan {
	return NewAggregate(
		NewFilter(NewTableScan("t"),
			Between(Col("x"),
				&ValChoice{ID: "lo", Domain: Call("domain", Col("x"))},
				&ValChoice{ID: "hi", Domain: Call("domain", Col("x"))})),
		[]*Named{As("g", Col("g"))},
		[]*Named{As("total", Call("sum", Col("v")))},
	)
}

// allKinds builds one plan per node kind so tests can cover every variant.
func allKinds() map[string]Plan {
	scan := func() Plan { return NewTableScan("t") }
	lo := &ValChoice{ID: "lo", Domain: Col("x")}
	hi := &ValChoice{ID: "hi", Domain: Col("x")}
	psBuild := &PrefixSumBuild{Input: NewCloud(scan()), SumCol: As("x", Col("x")),
		TargetCol: As("g", Col("g")), AggCol: As("total", Col("v"))}
	ps2Build := &PrefixSum2DBuild{Input: NewCloud(scan()), SumColX: As("x", Col("x")),
		SumColY: As("y", Col("y")), TargetCol: As("g", Col("g")), AggCol: As("n", Int(1))}

	return map[string]Plan{
		"TableScan":  scan(),
		"Projection": NewProjection(scan(), As("a", Col("a")), As("b2", NewOp("*", Col("b"), Float(2.5)))),
		"Filter":     NewFilter(scan(), And(Eq(Col("s"), Str("x")), NewOp("!=", Col("f"), Bool(false)))),
		"Aggregate": NewAggregate(scan(), []*Named{As("g", Col("g"))},
			[]*Named{As("n", Call("count", Star))}),
		"Cloud":        NewCloud(scan()),
		"Network":      NewNetwork(NewCloud(scan())),
		"StaticCache":  NewStaticCache(NewCloud(scan())),
		"DynamicCache": NewDynamicCache(NewCloud(scan())),
		"HashIndex": &HashIndexProbe{
			Input:   NewStaticCache(&HashIndexBuild{Input: NewCloud(scan()), Keys: []Expr{Col("k")}}),
			Queries: []Expr{&ValChoice{ID: "k", Domain: Col("k")}},
		},
		"SpatialIndex": &SpatialIndexProbe{
			Input:  NewDynamicCache(&SpatialIndexBuild{Input: NewCloud(scan()), Keys: []Expr{Col("x")}}),
			Lowers: []Expr{lo}, Uppers: []Expr{hi},
		},
		"PrefixSum": &PrefixSumProbe{Input: NewStaticCache(psBuild), Lower: lo, Upper: hi},
		"PrefixSum2D": &PrefixSum2DProbe{Input: NewStaticCache(ps2Build),
			LowerX: Int(0), UpperX: Int(10), LowerY: Int(0), UpperY: Int(20)},
		"ChoicePlan": NewChoicePlan("which", scan(), NewFilter(scan(),
			Eq(Col("c"), &AnyChoice{ID: "col", Choices: []Expr{Int(1), Int(2)}}))),
		"Multi": NewFilter(scan(), NewOp("in", Col("c"),
			&MultiChoice{ID: "set", Child: &ValChoice{ID: "item", Domain: Col("c")}, Begin: "(", End: ")", Delim: ","})),
	}
}
