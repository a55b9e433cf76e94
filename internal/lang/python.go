package lang

func init() {
	Register(&LanguageSpec{
		Language:          Python,
		FileExtensions:    []string{".py"},
		FunctionNodeTypes: []string{"function_definition"},
		ClassNodeTypes:    []string{"class_definition"},
		ModuleNodeTypes:   []string{"module"},
		CallNodeTypes:     []string{"call"},
		ImportNodeTypes:   []string{"import_statement"},
		ImportFromTypes:   []string{"import_from_statement"},
		PackageIndicators: []string{"__init__.py"},

		AssignmentNodeTypes: []string{"assignment", "augmented_assignment"},
		CommentNodeTypes:    []string{"comment"},
		DecoratorNodeTypes:  []string{"decorator"},
		Typed:               true,
	})
}
