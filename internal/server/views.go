package server

import (
	"bytes"
	"html/template"
	"net/http"

	"todo-board/internal/logger"
	"todo-board/internal/models"
	"todo-board/internal/store"
)

const (
	emptyAllMessage     = "Your todo list is empty!"
	emptyPendingMessage = "You have no pending tasks :)"
	emptyDoneMessage    = "You have done nothing yet :("
)

// listView - одна колонка страницы. Кнопки показываются только там,
// где список может менять задачи.
type listView struct {
	ID           string
	Title        string
	Filter       string
	Tasks        models.Snapshot
	EmptyMessage string
	ShowSwitch   bool
	ShowRemove   bool
}

type pageView struct {
	Lists []listView
}

func newPageView(tasks models.Snapshot) pageView {
	return pageView{Lists: []listView{
		{
			ID:           "all-tasks",
			Title:        "All tasks",
			Filter:       store.FilterAll.String(),
			Tasks:        store.FilterAll.Apply(tasks),
			EmptyMessage: emptyAllMessage,
			ShowSwitch:   true,
			ShowRemove:   true,
		},
		{
			ID:           "pending-tasks",
			Title:        "Pending tasks",
			Filter:       store.FilterPending.String(),
			Tasks:        store.Pending(tasks),
			EmptyMessage: emptyPendingMessage,
		},
		{
			ID:           "done-tasks",
			Title:        "Tasks done",
			Filter:       store.FilterDone.String(),
			Tasks:        store.Done(tasks),
			EmptyMessage: emptyDoneMessage,
		},
	}}
}

var pageTemplate = template.Must(template.New("index").Parse(indexHTML))

func indexHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := pageTemplate.Execute(&buf, newPageView(ts.Snapshot())); err != nil {
			logger.Error(r.Context(), err, "Ошибка рендеринга страницы")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

// После POST всегда редирект на /, поэтому поле формы снова пустое.
func addTaskFormHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		task := ts.Add(r.PostFormValue("description"))
		logger.Debug(r.Context(), "Задача добавлена через форму", "id", task.ID)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func toggleTaskFormHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}
		ts.Toggle(id)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func removeTaskFormHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}
		ts.Remove(id)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Todo</title>
<style>
  .column { width: 30%; float: left; }
  .done { text-decoration: line-through; }
  form.inline { display: inline; }
</style>
</head>
<body>
<form method="post" action="/tasks" id="task-form">
  <input type="text" name="description" autocomplete="off">
  <button type="submit">Add</button>
</form>
{{range .Lists}}
<div class="column">
  <h2>{{.Title}}</h2>
  <ul id="{{.ID}}" data-filter="{{.Filter}}" data-empty="{{.EmptyMessage}}" data-switch="{{.ShowSwitch}}" data-remove="{{.ShowRemove}}">
  {{- $list := . }}
  {{- range .Tasks}}
    <li{{if .Done}} class="done"{{end}}>
      <span>{{.Description}}</span>
      {{- if $list.ShowSwitch}}
      <form class="inline" method="post" action="/tasks/{{.ID}}/toggle"><button type="submit">{{if .Done}}Undone{{else}}Done{{end}}</button></form>
      {{- end}}
      {{- if $list.ShowRemove}}
      <form class="inline" method="post" action="/tasks/{{.ID}}/remove"><button type="submit">Remove</button></form>
      {{- end}}
    </li>
  {{- else}}
    <li class="empty">{{.EmptyMessage}}</li>
  {{- end}}
  </ul>
</div>
{{end}}
<script>
(function () {
  if (!window.EventSource) { return; }

  function button(action, label) {
    var form = document.createElement("form");
    form.className = "inline";
    form.method = "post";
    form.action = action;
    var b = document.createElement("button");
    b.type = "submit";
    b.textContent = label;
    form.appendChild(b);
    return form;
  }

  // tasks уже отфильтрованы сервером по data-filter списка
  function render(ul, tasks) {
    ul.textContent = "";
    if (!tasks.length) {
      var empty = document.createElement("li");
      empty.className = "empty";
      empty.textContent = ul.dataset.empty;
      ul.appendChild(empty);
      return;
    }
    tasks.forEach(function (t) {
      var li = document.createElement("li");
      if (t.done) { li.className = "done"; }
      var span = document.createElement("span");
      span.textContent = t.description;
      li.appendChild(span);
      if (ul.dataset.switch === "true") {
        li.appendChild(button("/tasks/" + t.id + "/toggle", t.done ? "Undone" : "Done"));
      }
      if (ul.dataset.remove === "true") {
        li.appendChild(button("/tasks/" + t.id + "/remove", "Remove"));
      }
      ul.appendChild(li);
    });
  }

  document.querySelectorAll("ul[data-filter]").forEach(function (ul) {
    var source = new EventSource("/events?filter=" + encodeURIComponent(ul.dataset.filter));
    source.addEventListener("snapshot", function (e) {
      render(ul, JSON.parse(e.data));
    });
  });
})();
</script>
</body>
</html>
`
