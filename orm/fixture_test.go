package orm_test

import (
	"github.com/cloesce/cloesce/idl"
)

func col(name string, t idl.CidlType, fk string) idl.Column {
	return idl.Column{Name: name, Type: t, ForeignKey: fk}
}

// kennelAst declares Person 1-n Dog n-1 Breed, and Student n-n Course.
func kennelAst() *idl.CloesceAst {
	ast := idl.NewAst("kennel")

	person := idl.NewModel("Person", "person.go")
	person.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	person.Columns = []idl.Column{col("name", idl.Nullable{Inner: idl.Text}, "")}
	person.NavigationProperties = []idl.NavigationProperty{
		{VarName: "dogs", ModelReference: "Dog", Kind: idl.OneToMany, ColumnReference: "personId"},
	}
	person.DataSources["withDogs"] = idl.IncludeTree{"dogs": {"breed": {}}}
	ast.Models["Person"] = person

	dog := idl.NewModel("Dog", "dog.go")
	dog.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	dog.Columns = []idl.Column{
		col("personId", idl.Integer, "Person"),
		col("breedId", idl.Nullable{Inner: idl.Integer}, "Breed"),
		col("name", idl.Text, ""),
	}
	dog.NavigationProperties = []idl.NavigationProperty{
		{VarName: "breed", ModelReference: "Breed", Kind: idl.OneToOne, ColumnReference: "breedId"},
	}
	dog.DataSources["withBreed"] = idl.IncludeTree{"breed": {}}
	ast.Models["Dog"] = dog

	breed := idl.NewModel("Breed", "breed.go")
	breed.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	breed.Columns = []idl.Column{
		col("name", idl.Text, ""),
		col("hypoallergenic", idl.Nullable{Inner: idl.Boolean}, ""),
	}
	ast.Models["Breed"] = breed

	student := idl.NewModel("Student", "student.go")
	student.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	student.Columns = []idl.Column{col("name", idl.Text, "")}
	student.NavigationProperties = []idl.NavigationProperty{
		{VarName: "courses", ModelReference: "Course", Kind: idl.ManyToMany, UniqueID: "StudentsCourses"},
	}
	student.DataSources["withCourses"] = idl.IncludeTree{"courses": {}}
	ast.Models["Student"] = student

	course := idl.NewModel("Course", "course.go")
	course.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Text}
	course.Columns = []idl.Column{col("title", idl.Text, "")}
	course.NavigationProperties = []idl.NavigationProperty{
		{VarName: "students", ModelReference: "Student", Kind: idl.ManyToMany, UniqueID: "StudentsCourses"},
	}
	ast.Models["Course"] = course

	return ast
}
